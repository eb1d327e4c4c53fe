package appointments

import "time"

const (
	// CutOffLead is how long before the slot a Pending patient must check in.
	CutOffLead = 15 * time.Minute
	// NoShowGrace is how long after the slot a Skipped patient may still rejoin.
	NoShowGrace = 15 * time.Minute
	// RejoinPenalty pushes a late rejoin behind the no-show deadline.
	RejoinPenalty = 15 * time.Minute
	// NoShowDisplayWindow keeps No-show appointments on screen before hiding them.
	NoShowDisplayWindow = 2 * time.Hour
)

// Derive returns the cut-off and no-show deadlines for a scheduled time. They
// are set once at creation and never follow later doctor delay.
func Derive(scheduled time.Time) (cutOff, noShow time.Time) {
	return scheduled.Add(-CutOffLead), scheduled.Add(NoShowGrace)
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusArrived, StatusSkipped, StatusNoShow, StatusCancelled},
	StatusConfirmed: {StatusArrived, StatusCompleted, StatusCancelled},
	StatusArrived:   {StatusCompleted, StatusCancelled},
	StatusSkipped:   {StatusConfirmed, StatusNoShow, StatusCancelled},
}

// CanTransition reports whether from -> to is a permitted change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatus is the time-driven decision: it returns the status a at now
// should hold and whether that differs from the stored one. It only reads
// the fixed deadlines, so doctor delay never changes the outcome. A Pending
// appointment already past its no-show deadline goes straight to No-show so
// that one evaluation settles it.
func NextStatus(a Appointment, now time.Time) (Status, bool) {
	switch a.Status {
	case StatusPending:
		if !now.Before(a.NoShowTime) {
			return StatusNoShow, true
		}
		if !now.Before(a.CutOffTime) {
			return StatusSkipped, true
		}
	case StatusSkipped:
		if !now.Before(a.NoShowTime) {
			return StatusNoShow, true
		}
	}
	return a.Status, false
}

// RejoinTime is where a Skipped patient would land if they walked back in at
// now: the no-show deadline, or RejoinPenalty past it once the original slot
// time has gone by.
func RejoinTime(a Appointment, now time.Time) time.Time {
	if now.After(a.ScheduledAt) {
		return a.NoShowTime.Add(RejoinPenalty)
	}
	return a.NoShowTime
}

// EffectiveTime is the time the queue orders a by.
func EffectiveTime(a Appointment, now time.Time) time.Time {
	if a.Status == StatusSkipped {
		return RejoinTime(a, now)
	}
	if a.RequeuedFor != nil {
		return *a.RequeuedFor
	}
	return a.ScheduledAt
}

// Visible reports whether a belongs on patient and staff screens at now.
func Visible(a Appointment, now time.Time) bool {
	switch a.Status {
	case StatusCompleted, StatusCancelled:
		return false
	case StatusNoShow:
		return now.Before(a.NoShowTime.Add(NoShowDisplayWindow))
	}
	return true
}
