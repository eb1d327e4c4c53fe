package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/frontdesk-queue/internal/clock"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/internal/events"
	"github.com/wolfman30/frontdesk-queue/internal/observability/metrics"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

var appointmentsTracer = otel.Tracer("frontdesk.internal.appointments")

// Transition sources recorded on events and the audit trail.
const (
	SourceStaff = "staff"
	SourceSweep = "sweep"
)

// DoctorReader loads doctor configuration.
type DoctorReader interface {
	Get(ctx context.Context, id string) (*doctors.Doctor, error)
}

// Auditor records status transitions.
type Auditor interface {
	LogTransition(ctx context.Context, clinicID, doctorID, appointmentID, from, to, source string) error
}

// Service applies staff actions and time-driven transitions to appointments.
// Every status write is a compare-and-swap against the status it was read with.
type Service struct {
	store     Store
	doctors   DoctorReader
	clock     clock.Clock
	publisher events.Publisher
	auditor   Auditor
	metrics   *metrics.QueueMetrics
	logger    *logging.Logger
}

// NewService constructs an appointments service.
func NewService(store Store, doctorReader DoctorReader, clk clock.Clock, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if doctorReader == nil {
		panic("appointments: doctor reader required")
	}
	if clk == nil {
		clk = clock.NewClinic(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, doctors: doctorReader, clock: clk, logger: logger}
}

func (s *Service) WithPublisher(p events.Publisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithAuditor(a Auditor) *Service {
	s.auditor = a
	return s
}

func (s *Service) WithMetrics(m *metrics.QueueMetrics) *Service {
	s.metrics = m
	return s
}

// Store exposes the underlying store to collaborators that read it directly.
func (s *Service) Store() Store {
	return s.store
}

// BookRequest pre-books a specific slot.
type BookRequest struct {
	DoctorID     string `json:"doctor_id"`
	PatientName  string `json:"patient_name"`
	Date         string `json:"date"`
	SessionIndex int    `json:"session_index"`
	SlotIndex    int    `json:"slot_index"`
}

// Book creates a pre-booked (A-token) appointment in the requested slot.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("frontdesk.doctor_id", req.DoctorID),
		attribute.Int("frontdesk.session_index", req.SessionIndex),
		attribute.Int("frontdesk.slot_index", req.SlotIndex),
	)

	doc, err := s.doctors.Get(ctx, req.DoctorID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: book: %w", err)
	}
	now := s.clock.Now()
	day, err := clock.ParseDayKey(req.Date, now.Location())
	if err != nil {
		return nil, fmt.Errorf("appointments: book: %w", ErrInvalidDate)
	}
	windows, err := doctors.Sessions(doc, day)
	if err != nil {
		return nil, fmt.Errorf("appointments: book: %w", err)
	}
	if req.SessionIndex < 0 || req.SessionIndex >= len(windows) {
		return nil, fmt.Errorf("appointments: book: %w", doctors.ErrSessionIndex)
	}
	avg := doc.ConsultDuration()
	w := windows[req.SessionIndex]
	if req.SlotIndex < 0 || req.SlotIndex >= w.Capacity(avg) {
		return nil, ErrInvalidSlot
	}

	scheduled := w.SlotTime(req.SlotIndex, avg)
	cutOff, noShow := Derive(scheduled)
	numeric := doctors.BaseToken(windows, req.SessionIndex, avg) + req.SlotIndex
	appt := &Appointment{
		ID:           uuid.NewString(),
		DoctorID:     doc.ID,
		DoctorName:   doc.Name,
		ClinicID:     doc.ClinicID,
		PatientName:  req.PatientName,
		Date:         clock.DayKey(day),
		Time:         clock.DisplayTime(scheduled),
		ScheduledAt:  scheduled,
		SessionIndex: req.SessionIndex,
		SlotIndex:    req.SlotIndex,
		TokenNumber:  TokenNumber(false, numeric),
		NumericToken: numeric,
		Status:       StatusPending,
		CutOffTime:   cutOff,
		NoShowTime:   noShow,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, appt); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("appointment booked", "appointment_id", appt.ID, "doctor_id", doc.ID, "token", appt.TokenNumber, "slot_index", appt.SlotIndex)
	return appt, nil
}

// Advance applies NextStatus at the current time. It reports whether a write
// happened; losing the compare-and-swap to another writer is not an error.
func (s *Service) Advance(ctx context.Context, a Appointment) (*Appointment, bool, error) {
	next, changed := NextStatus(a, s.clock.Now())
	if !changed {
		return &a, false, nil
	}
	updated := a
	updated.Status = next
	if err := s.transition(ctx, &a, &updated, SourceSweep); err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.Debug("status advance lost race", "appointment_id", a.ID, "to", next)
			return &a, false, nil
		}
		return nil, false, err
	}
	return &updated, true, nil
}

// CheckIn confirms the patient is present. A patient past their cut-off
// rejoins at the simulated rejoin time instead of their original slot.
func (s *Service) CheckIn(ctx context.Context, id string) (*Appointment, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.Present() {
		return cur, nil
	}
	now := s.clock.Now()
	effective, _ := NextStatus(*cur, now)
	if effective == StatusNoShow {
		return nil, fmt.Errorf("appointments: check-in after no-show deadline: %w", ErrInvalidTransition)
	}

	next := *cur
	next.Status = StatusConfirmed
	if effective == StatusSkipped {
		rejoin := RejoinTime(*cur, now)
		next.RequeuedFor = &rejoin
	}
	if err := s.transition(ctx, cur, &next, SourceStaff); err != nil {
		return nil, err
	}
	return &next, nil
}

// Arrive marks a checked-in or on-time patient as physically at the room.
func (s *Service) Arrive(ctx context.Context, id string) (*Appointment, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if effective, _ := NextStatus(*cur, s.clock.Now()); effective != cur.Status {
		return nil, fmt.Errorf("appointments: arrive from lapsed %s: %w", effective, ErrInvalidTransition)
	}
	next := *cur
	next.Status = StatusArrived
	if err := s.transition(ctx, cur, &next, SourceStaff); err != nil {
		return nil, err
	}
	return &next, nil
}

// StartConsultation marks the patient as being seen. Only one appointment per
// doctor day may be in consultation.
func (s *Service) StartConsultation(ctx context.Context, id string) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.start_consultation")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.appointment_id", id))

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Status.Present() {
		return nil, fmt.Errorf("appointments: start from %s: %w", cur.Status, ErrInvalidTransition)
	}
	if cur.InConsultation() {
		return cur, nil
	}
	day, err := s.store.ListForDoctorDay(ctx, cur.DoctorID, cur.Date)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: start consultation: %w", err)
	}
	for _, other := range day {
		if other.ID != cur.ID && other.InConsultation() {
			return nil, ErrConsultationInProgress
		}
	}

	now := s.clock.Now()
	next := *cur
	next.ConsultationStartedAt = &now
	next.UpdatedAt = now
	if err := s.store.CompareAndSwap(ctx, &next, cur.Status); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.confirmSoleConsultation(ctx, &next); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("consultation started", "appointment_id", id, "doctor_id", cur.DoctorID, "token", cur.TokenNumber)
	return &next, nil
}

// confirmSoleConsultation re-reads the day after a start is written. If a
// concurrent start also landed, this one is withdrawn and the caller gets
// ErrConsultationInProgress; under a tight race both starts may withdraw, and
// neither survives.
func (s *Service) confirmSoleConsultation(ctx context.Context, started *Appointment) error {
	day, err := s.store.ListForDoctorDay(ctx, started.DoctorID, started.Date)
	if err != nil {
		return fmt.Errorf("appointments: confirm consultation: %w", err)
	}
	for _, other := range day {
		if other.ID == started.ID || !other.InConsultation() {
			continue
		}
		undo := *started
		undo.ConsultationStartedAt = nil
		undo.UpdatedAt = s.clock.Now()
		if err := s.store.CompareAndSwap(ctx, &undo, started.Status); err != nil {
			return fmt.Errorf("appointments: withdraw concurrent start: %w", err)
		}
		s.logger.Warn("concurrent consultation start withdrawn", "appointment_id", started.ID, "doctor_id", started.DoctorID, "other_id", other.ID)
		return ErrConsultationInProgress
	}
	return nil
}

// Complete finishes the consultation.
func (s *Service) Complete(ctx context.Context, id string) (*Appointment, error) {
	return s.moveTo(ctx, id, StatusCompleted)
}

// Cancel cancels any non-terminal appointment and frees its slot.
func (s *Service) Cancel(ctx context.Context, id string) (*Appointment, error) {
	return s.moveTo(ctx, id, StatusCancelled)
}

func (s *Service) moveTo(ctx context.Context, id string, to Status) (*Appointment, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *cur
	next.Status = to
	if err := s.transition(ctx, cur, &next, SourceStaff); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) transition(ctx context.Context, cur, next *Appointment, source string) error {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("frontdesk.appointment_id", cur.ID),
		attribute.String("frontdesk.doctor_id", cur.DoctorID),
		attribute.String("frontdesk.from", string(cur.Status)),
		attribute.String("frontdesk.to", string(next.Status)),
	)

	if !CanTransition(cur.Status, next.Status) {
		return fmt.Errorf("appointments: %s -> %s: %w", cur.Status, next.Status, ErrInvalidTransition)
	}
	now := s.clock.Now()
	next.UpdatedAt = now
	if err := s.store.CompareAndSwap(ctx, next, cur.Status); err != nil {
		span.RecordError(err)
		return err
	}

	s.metrics.ObserveTransition(string(cur.Status), string(next.Status), source)
	s.logger.Info("appointment status changed",
		"appointment_id", cur.ID,
		"doctor_id", cur.DoctorID,
		"from", cur.Status,
		"to", next.Status,
		"source", source,
	)

	if s.publisher != nil {
		evt := events.AppointmentStatusChangedV1{
			EventID:       uuid.NewString(),
			ClinicID:      cur.ClinicID,
			DoctorID:      cur.DoctorID,
			AppointmentID: cur.ID,
			Date:          cur.Date,
			From:          string(cur.Status),
			To:            string(next.Status),
			Source:        source,
			ChangedAt:     now.UTC().Truncate(time.Second),
		}
		if err := s.publisher.Publish(ctx, cur.ClinicID, evt); err != nil {
			s.logger.Warn("failed to publish status event", "appointment_id", cur.ID, "error", err)
		}
	}
	if s.auditor != nil {
		if err := s.auditor.LogTransition(ctx, cur.ClinicID, cur.DoctorID, cur.ID, string(cur.Status), string(next.Status), source); err != nil {
			s.logger.Warn("failed to audit status change", "appointment_id", cur.ID, "error", err)
		}
	}
	return nil
}
