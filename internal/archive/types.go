package archive

import (
	"time"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
)

// DaySnapshot is the record archived to S3 once a doctor's day is closed.
type DaySnapshot struct {
	Version      string                     `json:"version"` // "1.0"
	ClinicID     string                     `json:"clinic_id"`
	DoctorID     string                     `json:"doctor_id"`
	DoctorName   string                     `json:"doctor_name"`
	Date         string                     `json:"date"` // day key, "19 October 2026"
	ArchivedAt   time.Time                  `json:"archived_at"`
	Totals       Totals                     `json:"totals"`
	Appointments []appointments.Appointment `json:"appointments"`
}

// Totals counts the day's appointments by outcome.
type Totals struct {
	Booked      int `json:"booked"`
	WalkIns     int `json:"walk_ins"`
	ForceBooked int `json:"force_booked"`
	Completed   int `json:"completed"`
	NoShows     int `json:"no_shows"`
	Cancelled   int `json:"cancelled"`
	// Open is anything not yet terminal when the day was archived.
	Open int `json:"open"`
}

// ManifestEntry is one JSONL line in the monthly manifest.
type ManifestEntry struct {
	ClinicID   string `json:"clinic_id"`
	DoctorID   string `json:"doctor_id"`
	Date       string `json:"date"`
	S3Key      string `json:"s3_key"`
	Completed  int    `json:"completed"`
	NoShows    int    `json:"no_shows"`
	ArchivedAt string `json:"archived_at"`
}

// Summarize tallies list into Totals.
func Summarize(list []appointments.Appointment) Totals {
	var t Totals
	for _, a := range list {
		if a.WalkIn {
			t.WalkIns++
		} else {
			t.Booked++
		}
		if a.IsForceBooked {
			t.ForceBooked++
		}
		switch a.Status {
		case appointments.StatusCompleted:
			t.Completed++
		case appointments.StatusNoShow:
			t.NoShows++
		case appointments.StatusCancelled:
			t.Cancelled++
		default:
			t.Open++
		}
	}
	return t
}
