// Package appointments defines the appointment record, its status lifecycle
// and the store that persists it.
package appointments

import (
	"fmt"
	"time"
)

// Status is the closed set of appointment states.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusSkipped   Status = "Skipped"
	StatusArrived   Status = "Arrived"
	StatusNoShow    Status = "No-show"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusSkipped, StatusArrived,
		StatusNoShow, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses never transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Live statuses take part in queue ordering.
func (s Status) Live() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusArrived, StatusSkipped:
		return true
	}
	return false
}

// Present reports whether the patient has checked in.
func (s Status) Present() bool {
	return s == StatusConfirmed || s == StatusArrived
}

// Token prefixes.
const (
	PrefixPreBooked = "A"
	PrefixWalkIn    = "W"
)

// TokenNumber renders the human-facing token.
func TokenNumber(walkIn bool, numeric int) string {
	prefix := PrefixPreBooked
	if walkIn {
		prefix = PrefixWalkIn
	}
	return fmt.Sprintf("%s%d", prefix, numeric)
}

// Appointment is one patient's place in a doctor's day.
type Appointment struct {
	ID          string `json:"id" dynamodbav:"appointment_id"`
	DoctorID    string `json:"doctor_id" dynamodbav:"doctor_id"`
	DoctorName  string `json:"doctor_name" dynamodbav:"doctor_name"`
	ClinicID    string `json:"clinic_id" dynamodbav:"clinic_id"`
	PatientName string `json:"patient_name,omitempty" dynamodbav:"patient_name,omitempty"`

	// Date is the clinic day key ("19 October 2026").
	Date string `json:"date" dynamodbav:"date"`
	// Time is the patient-facing slot time ("09:05 AM").
	Time string `json:"time" dynamodbav:"time"`
	// ScheduledAt is the literal slot time and drives ordering and cutoffs.
	ScheduledAt time.Time `json:"scheduled_at" dynamodbav:"scheduled_at"`

	SessionIndex  int    `json:"session_index" dynamodbav:"session_index"`
	SlotIndex     int    `json:"slot_index" dynamodbav:"slot_index"`
	TokenNumber   string `json:"token_number" dynamodbav:"token_number"`
	NumericToken  int    `json:"numeric_token" dynamodbav:"numeric_token"`
	WalkIn        bool   `json:"walk_in" dynamodbav:"walk_in"`
	IsForceBooked bool   `json:"is_force_booked" dynamodbav:"is_force_booked"`

	Status     Status    `json:"status" dynamodbav:"status"`
	CutOffTime time.Time `json:"cut_off_time" dynamodbav:"cut_off_time"`
	NoShowTime time.Time `json:"no_show_time" dynamodbav:"no_show_time"`

	// RequeuedFor is the queue position a late rejoin was given.
	RequeuedFor           *time.Time `json:"requeued_for,omitempty" dynamodbav:"requeued_for,omitempty"`
	ConsultationStartedAt *time.Time `json:"consultation_started_at,omitempty" dynamodbav:"consultation_started_at,omitempty"`

	DoctorDelayMinutes int `json:"doctor_delay_minutes" dynamodbav:"doctor_delay_minutes"`

	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// InConsultation reports whether the doctor is currently seeing this patient.
func (a *Appointment) InConsultation() bool {
	return a != nil && a.ConsultationStartedAt != nil && a.Status.Present()
}

// SlotKey identifies the capacity slot the appointment holds.
type SlotKey struct {
	DoctorID     string
	Date         string
	SessionIndex int
	SlotIndex    int
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.DoctorID, k.Date, k.SessionIndex, k.SlotIndex)
}

// Slot returns the appointment's slot key.
func (a *Appointment) Slot() SlotKey {
	return SlotKey{DoctorID: a.DoctorID, Date: a.Date, SessionIndex: a.SessionIndex, SlotIndex: a.SlotIndex}
}
