package doctors

import "errors"

var (
	// ErrDoctorNotFound is returned when no doctor matches the id.
	ErrDoctorNotFound = errors.New("doctor not found")

	// ErrNoSessions is returned when the doctor has no sessions on the requested day.
	ErrNoSessions = errors.New("doctor has no sessions on this day")

	// ErrSessionIndex is returned for a session index outside the day's sessions.
	ErrSessionIndex = errors.New("session index out of range")

	// ErrInvalidStatus is returned for consultation statuses other than In/Out.
	ErrInvalidStatus = errors.New("consultation status must be In or Out")

	// ErrInvalidBreak is returned for a break whose end is not after its start.
	ErrInvalidBreak = errors.New("break end must be after start")
)
