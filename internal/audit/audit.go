// Package audit keeps an append-only trail of queue state changes: status
// transitions, force bookings and automated sweeps.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType represents the kind of audited change.
type EventType string

const (
	// EventStatusTransition is logged for every appointment status change.
	EventStatusTransition EventType = "queue.status_transition"
	// EventForceBooking is logged when a walk-in is booked beyond the allotment.
	EventForceBooking EventType = "queue.force_booking"
	// EventStatusSweep is logged once per doctor per sweep that changed something.
	EventStatusSweep EventType = "queue.status_sweep"
	// EventDoctorStatus is logged when a doctor's In/Out flag changes.
	EventDoctorStatus EventType = "queue.doctor_status"
)

// Event is an immutable audit record.
type Event struct {
	ID            string          `json:"id"`
	EventType     EventType       `json:"event_type"`
	ClinicID      string          `json:"clinic_id"`
	DoctorID      string          `json:"doctor_id,omitempty"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	AffectedIDs   []string        `json:"affected_ids,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Details carries event-specific fields.
type Details struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Source string `json:"source,omitempty"`

	TokenNumber   string     `json:"token_number,omitempty"`
	EstimatedTime *time.Time `json:"estimated_time,omitempty"`

	Date string `json:"date,omitempty"`
}

// Service writes and reads the audit trail.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records an audit event. A nil service or database is a no-op.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.AffectedIDs == nil {
		event.AffectedIDs = []string{}
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO queue_audit_events (
			id, event_type, clinic_id, doctor_id, appointment_id,
			affected_ids, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.ClinicID,
		nullString(event.DoctorID),
		nullString(event.AppointmentID),
		pq.Array(event.AffectedIDs),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// LogTransition records an appointment status change.
func (s *Service) LogTransition(ctx context.Context, clinicID, doctorID, appointmentID, from, to, source string) error {
	details, err := json.Marshal(Details{From: from, To: to, Source: source})
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	return s.LogEvent(ctx, Event{
		EventType:     EventStatusTransition,
		ClinicID:      clinicID,
		DoctorID:      doctorID,
		AppointmentID: appointmentID,
		Details:       details,
	})
}

// LogDoctorStatus records a doctor In/Out change.
func (s *Service) LogDoctorStatus(ctx context.Context, clinicID, doctorID, from, to, source string) error {
	details, err := json.Marshal(Details{From: from, To: to, Source: source})
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	return s.LogEvent(ctx, Event{
		EventType: EventDoctorStatus,
		ClinicID:  clinicID,
		DoctorID:  doctorID,
		Details:   details,
	})
}

// LogForceBooking records an overflow walk-in.
func (s *Service) LogForceBooking(ctx context.Context, clinicID, doctorID, appointmentID, token string, estimated time.Time) error {
	details, err := json.Marshal(Details{TokenNumber: token, EstimatedTime: &estimated})
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	return s.LogEvent(ctx, Event{
		EventType:     EventForceBooking,
		ClinicID:      clinicID,
		DoctorID:      doctorID,
		AppointmentID: appointmentID,
		Details:       details,
	})
}

// LogSweep records the appointments one sweep moved for a doctor's day.
func (s *Service) LogSweep(ctx context.Context, clinicID, doctorID, date string, affected []string) error {
	if len(affected) == 0 {
		return nil
	}
	details, err := json.Marshal(Details{Date: date, Source: "sweep"})
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	return s.LogEvent(ctx, Event{
		EventType:   EventStatusSweep,
		ClinicID:    clinicID,
		DoctorID:    doctorID,
		AffectedIDs: affected,
		Details:     details,
	})
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	ClinicID      string
	DoctorID      string
	AppointmentID string
	EventType     EventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
}

// QueryEvents retrieves audit events newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `
		SELECT id, event_type, clinic_id, doctor_id, appointment_id,
			   affected_ids, details, created_at
		FROM queue_audit_events
		WHERE clinic_id = $1
	`
	args := []interface{}{filter.ClinicID}
	argIdx := 2

	if filter.DoctorID != "" {
		query += fmt.Sprintf(" AND doctor_id = $%d", argIdx)
		args = append(args, filter.DoctorID)
		argIdx++
	}
	if filter.AppointmentID != "" {
		query += fmt.Sprintf(" AND (appointment_id = $%d OR $%d = ANY(affected_ids))", argIdx, argIdx)
		args = append(args, filter.AppointmentID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var doctorID, appointmentID sql.NullString
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.ClinicID, &doctorID, &appointmentID,
			pq.Array(&e.AffectedIDs), &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.DoctorID = doctorID.String
		e.AppointmentID = appointmentID.String
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
