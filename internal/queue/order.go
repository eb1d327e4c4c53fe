// Package queue orders a doctor's appointments into who is being seen now,
// who is next and who is waiting, and propagates the doctor's running delay
// through that order.
package queue

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
)

const (
	rankInConsultation = iota
	rankPresent
	rankPending
	rankSkipped
	rankOther
)

func rank(a appointments.Appointment) int {
	if a.InConsultation() {
		return rankInConsultation
	}
	switch a.Status {
	case appointments.StatusConfirmed, appointments.StatusArrived:
		return rankPresent
	case appointments.StatusPending:
		return rankPending
	case appointments.StatusSkipped:
		return rankSkipped
	default:
		return rankOther
	}
}

// rejoinedRank ranks a Skipped appointment the way it would rank after a
// check-in now: a Confirmed patient requeued at its rejoin time.
func rejoinedRank(a appointments.Appointment) int {
	if a.Status == appointments.StatusSkipped && !a.InConsultation() {
		return rankPresent
	}
	return rank(a)
}

// Compare orders two appointments: session, then status priority, then
// effective time, then numeric token. Skipped appointments are placed at
// their simulated rejoin time as of now. Ties on all four fall back to the
// appointment ID so the order is total.
func Compare(a, b appointments.Appointment, now time.Time) int {
	return compareBy(rank, a, b, now)
}

// CompareRejoined is Compare for a viewer's merged order, where every Skipped
// appointment present has already been admitted as a rejoin.
func CompareRejoined(a, b appointments.Appointment, now time.Time) int {
	return compareBy(rejoinedRank, a, b, now)
}

func compareBy(rankOf func(appointments.Appointment) int, a, b appointments.Appointment, now time.Time) int {
	if c := cmp.Compare(a.SessionIndex, b.SessionIndex); c != 0 {
		return c
	}
	if c := cmp.Compare(rankOf(a), rankOf(b)); c != 0 {
		return c
	}
	if c := appointments.EffectiveTime(a, now).Compare(appointments.EffectiveTime(b, now)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.NumericToken, b.NumericToken); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Sort orders list in place with Compare.
func Sort(list []appointments.Appointment, now time.Time) {
	slices.SortFunc(list, func(a, b appointments.Appointment) int {
		return Compare(a, b, now)
	})
}

// SortRejoined orders list in place with CompareRejoined.
func SortRejoined(list []appointments.Appointment, now time.Time) {
	slices.SortFunc(list, func(a, b appointments.Appointment) int {
		return CompareRejoined(a, b, now)
	})
}

// AdmitsRejoin reports whether skipped would land ahead of viewer if it
// walked back in at now.
func AdmitsRejoin(skipped, viewer appointments.Appointment, now time.Time) bool {
	return appointments.RejoinTime(skipped, now).Before(appointments.EffectiveTime(viewer, now))
}

// PatientsAheadOf counts the live appointments in list that precede viewer
// in viewer's own merged order. Skipped appointments count only when their
// rejoin lands ahead of the viewer.
func PatientsAheadOf(list []appointments.Appointment, viewer appointments.Appointment, now time.Time) int {
	viewer = effective(viewer, now)
	ahead := 0
	for _, a := range list {
		if a.ID == viewer.ID {
			continue
		}
		a = effective(a, now)
		if !a.Status.Live() {
			continue
		}
		if a.Status == appointments.StatusSkipped && !AdmitsRejoin(a, viewer, now) {
			continue
		}
		if CompareRejoined(a, viewer, now) < 0 {
			ahead++
		}
	}
	return ahead
}
