package allocation

import "time"

// Estimate is a wait estimate shown to a patient.
type Estimate struct {
	Time          time.Time `json:"time"`
	PatientsAhead int       `json:"patients_ahead"`
}

// EstimatePolicy derives the patient-facing (perceived) estimate from the
// literal one. The literal estimate always drives ordering.
type EstimatePolicy interface {
	Perceive(literal Estimate, avg time.Duration, now time.Time) Estimate
}

// LiteralPolicy shows the literal estimate unchanged.
type LiteralPolicy struct{}

func (LiteralPolicy) Perceive(literal Estimate, _ time.Duration, _ time.Time) Estimate {
	return literal
}

// QueueDepthPolicy never shows a time earlier than every patient ahead being
// seen back to back from now, so an empty-looking slot grid does not promise
// a wait shorter than the people already in the room.
type QueueDepthPolicy struct{}

func (QueueDepthPolicy) Perceive(literal Estimate, avg time.Duration, now time.Time) Estimate {
	byDepth := now.Add(time.Duration(literal.PatientsAhead) * avg)
	if byDepth.After(literal.Time) {
		return Estimate{Time: byDepth, PatientsAhead: literal.PatientsAhead}
	}
	return literal
}
