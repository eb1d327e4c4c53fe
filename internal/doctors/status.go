package doctors

import "time"

// NextConsultationStatus decides the doctor's In/Out flag at now. It never
// mutates d; the caller persists the result with a conditional write when
// changed is true.
//
// The doctor goes Out on a day without sessions, during a break, and once the
// day's work is done (the queue is empty and now is past the latest session
// end or inside its closing grace window). Going In is a staff action.
func NextConsultationStatus(d *Doctor, now time.Time, queueEmptyForToday bool, activeCounts map[int]int, grace time.Duration) (ConsultationStatus, bool) {
	if d == nil {
		return StatusOut, false
	}
	current := d.ConsultationStatus
	if !current.Valid() {
		current = StatusOut
	}
	next := current

	end, ok := LatestEnd(d, now, activeCounts)
	switch {
	case !ok:
		next = StatusOut
	case InBreak(d, now):
		next = StatusOut
	case queueEmptyForToday && !now.Before(end):
		next = StatusOut
	case queueEmptyForToday && IsWithinGraceOfClose(d, now, grace, activeCounts):
		next = StatusOut
	}
	return next, next != d.ConsultationStatus
}
