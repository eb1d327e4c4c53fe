package allocation

import (
	"errors"
	"fmt"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
)

var (
	// ErrSlotUnavailable is returned when every remaining session's walk-in
	// allotment is used up. The caller may retry with force booking.
	ErrSlotUnavailable = errors.New("walk-in allotment exhausted")

	// ErrDoctorUnavailable is returned when no session is open now.
	ErrDoctorUnavailable = errors.New("doctor has no open session")

	// ErrReservationConflict is returned when another allocator holds the
	// candidate slot's reservation.
	ErrReservationConflict = errors.New("slot reservation held by another allocator")
)

// ConflictError names the slot whose reservation was held elsewhere. It
// matches ErrReservationConflict with errors.Is.
type ConflictError struct {
	Slot appointments.SlotKey
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("allocation: slot %s: %v", e.Slot, ErrReservationConflict)
}

func (e *ConflictError) Unwrap() error {
	return ErrReservationConflict
}
