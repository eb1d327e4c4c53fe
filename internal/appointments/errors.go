package appointments

import "errors"

var (
	// ErrNotFound is returned when no appointment matches.
	ErrNotFound = errors.New("appointment not found")

	// ErrConflict is returned when a conditional write lost to a concurrent writer.
	ErrConflict = errors.New("appointment changed concurrently")

	// ErrSlotTaken is returned when another live appointment already holds the slot.
	ErrSlotTaken = errors.New("slot already held by another appointment")

	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConsultationInProgress is returned when the doctor is already seeing someone.
	ErrConsultationInProgress = errors.New("doctor already has a consultation in progress")

	// ErrInvalidDate is returned for a date that is not a clinic day key.
	ErrInvalidDate = errors.New("date must look like 19 October 2026")

	// ErrInvalidSlot is returned when a pre-booking names a slot outside the session.
	ErrInvalidSlot = errors.New("slot is outside the session")
)
