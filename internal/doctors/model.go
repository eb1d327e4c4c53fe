// Package doctors holds doctor availability, break periods, and the session
// model derived from them.
package doctors

import (
	"strings"
	"time"
)

// ConsultationStatus is whether the doctor is currently seeing patients.
type ConsultationStatus string

const (
	StatusIn  ConsultationStatus = "In"
	StatusOut ConsultationStatus = "Out"
)

// Valid reports whether s is a known status.
func (s ConsultationStatus) Valid() bool {
	return s == StatusIn || s == StatusOut
}

// DefaultConsultingMinutes is used when a doctor has no average configured.
const DefaultConsultingMinutes = 10

// TimeRange is one declared session, "09:00" to "13:00" in 24-hour clock.
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DayAvailability lists the ordered sessions for a weekday ("Monday").
type DayAvailability struct {
	Day      string      `json:"day"`
	Sessions []TimeRange `json:"sessions"`
}

// Interval is an absolute [Start, End) period.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Doctor is long-lived configuration plus the staff-controlled In/Out flag.
type Doctor struct {
	ID                    string `json:"id"`
	ClinicID              string `json:"clinic_id"`
	Name                  string `json:"name"`
	AverageConsultingTime int    `json:"average_consulting_time"` // minutes
	// WalkInAllotment overrides the clinic default per session when > 0.
	WalkInAllotment    int                   `json:"walk_in_allotment,omitempty"`
	Availability       []DayAvailability     `json:"availability"`
	BreakPeriods       map[string][]Interval `json:"break_periods,omitempty"` // keyed by day key
	ConsultationStatus ConsultationStatus    `json:"consultation_status"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// ConsultDuration returns the average consultation as a duration.
func (d *Doctor) ConsultDuration() time.Duration {
	if d == nil || d.AverageConsultingTime <= 0 {
		return DefaultConsultingMinutes * time.Minute
	}
	return time.Duration(d.AverageConsultingTime) * time.Minute
}

// ConsultMinutes returns the average consultation in minutes.
func (d *Doctor) ConsultMinutes() int {
	return int(d.ConsultDuration() / time.Minute)
}

// Allotment resolves the per-session walk-in allotment.
func (d *Doctor) Allotment(clinicDefault int) int {
	if d != nil && d.WalkInAllotment > 0 {
		return d.WalkInAllotment
	}
	return clinicDefault
}

// SessionsFor returns the declared sessions for a weekday.
func (d *Doctor) SessionsFor(weekday time.Weekday) []TimeRange {
	if d == nil {
		return nil
	}
	name := strings.ToLower(weekday.String())
	for _, day := range d.Availability {
		if strings.ToLower(strings.TrimSpace(day.Day)) == name {
			return day.Sessions
		}
	}
	return nil
}

// IsIn reports whether staff (or the status updater) marked the doctor In.
func (d *Doctor) IsIn() bool {
	return d != nil && d.ConsultationStatus == StatusIn
}
