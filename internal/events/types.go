package events

import (
	"context"
	"time"
)

// Event is a versioned domain event destined for the outbox.
type Event interface {
	EventType() string
}

// Publisher records events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, clinicID string, evt Event) error
}

const (
	TypeWalkInAllocated         = "queue.walkin_allocated.v1"
	TypeAppointmentStatusChange = "queue.appointment_status_changed.v1"
	TypeDoctorStatusChange      = "queue.doctor_status_changed.v1"
)

type WalkInAllocatedV1 struct {
	EventID       string    `json:"event_id"`
	ClinicID      string    `json:"clinic_id"`
	DoctorID      string    `json:"doctor_id"`
	AppointmentID string    `json:"appointment_id"`
	Date          string    `json:"date"`
	SessionIndex  int       `json:"session_index"`
	SlotIndex     int       `json:"slot_index"`
	TokenNumber   string    `json:"token_number"`
	EstimatedTime time.Time `json:"estimated_time"`
	PatientsAhead int       `json:"patients_ahead"`
	ForceBooked   bool      `json:"force_booked"`
	AllocatedAt   time.Time `json:"allocated_at"`
}

func (WalkInAllocatedV1) EventType() string { return TypeWalkInAllocated }

type AppointmentStatusChangedV1 struct {
	EventID       string    `json:"event_id"`
	ClinicID      string    `json:"clinic_id"`
	DoctorID      string    `json:"doctor_id"`
	AppointmentID string    `json:"appointment_id"`
	Date          string    `json:"date"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Source        string    `json:"source"` // staff, patient, sweep
	ChangedAt     time.Time `json:"changed_at"`
}

func (AppointmentStatusChangedV1) EventType() string { return TypeAppointmentStatusChange }

type DoctorStatusChangedV1 struct {
	EventID   string    `json:"event_id"`
	ClinicID  string    `json:"clinic_id"`
	DoctorID  string    `json:"doctor_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Source    string    `json:"source"`
	ChangedAt time.Time `json:"changed_at"`
}

func (DoctorStatusChangedV1) EventType() string { return TypeDoctorStatusChange }
