package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/internal/events"
	"github.com/wolfman30/frontdesk-queue/internal/observability/metrics"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// maxAttempts is the first try plus one retry after a lost reservation race.
const maxAttempts = 2

// DoctorReader loads doctor configuration.
type DoctorReader interface {
	Get(ctx context.Context, id string) (*doctors.Doctor, error)
}

// Auditor records force bookings.
type Auditor interface {
	LogForceBooking(ctx context.Context, clinicID, doctorID, appointmentID, token string, estimated time.Time) error
}

// WalkInRequest asks for the next walk-in token for a doctor today.
type WalkInRequest struct {
	DoctorID    string `json:"doctor_id"`
	PatientName string `json:"patient_name"`
	ForceBook   bool   `json:"force_book"`
}

// WalkIn is an issued walk-in token.
type WalkIn struct {
	Appointment   *appointments.Appointment `json:"appointment"`
	EstimatedTime time.Time                 `json:"estimated_time"`
	PatientsAhead int                       `json:"patients_ahead"`
	Perceived     Estimate                  `json:"perceived"`
	IsForceBooked bool                      `json:"is_force_booked"`
}

// Service issues walk-in tokens end to end: read the day, reserve a slot,
// commit the appointment, release the reservation.
type Service struct {
	allocator        *Allocator
	store            appointments.Store
	doctors          DoctorReader
	clock            clock.Clock
	allotment        int
	timeout          time.Duration
	persistPerceived bool
	publisher        events.Publisher
	auditor          Auditor
	metrics          *metrics.QueueMetrics
	logger           *logging.Logger
}

// NewService constructs a walk-in service. allotment is the clinic default
// per session; a doctor's own allotment overrides it.
func NewService(allocator *Allocator, store appointments.Store, doctorReader DoctorReader, clk clock.Clock, allotment int, logger *logging.Logger) *Service {
	if allocator == nil {
		panic("allocation: allocator required")
	}
	if store == nil {
		panic("allocation: store required")
	}
	if doctorReader == nil {
		panic("allocation: doctor reader required")
	}
	if clk == nil {
		clk = clock.NewClinic(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		allocator: allocator,
		store:     store,
		doctors:   doctorReader,
		clock:     clk,
		allotment: allotment,
		timeout:   5 * time.Second,
		logger:    logger,
	}
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

func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithPerceivedEstimate makes the perceived estimate the appointment's
// patient-facing time. Ordering always uses the literal estimate.
func (s *Service) WithPerceivedEstimate(enabled bool) *Service {
	s.persistPerceived = enabled
	return s
}

// IssueWalkIn allocates and commits a walk-in appointment. A lost reservation
// race or a slot committed underneath the read is retried once against a
// fresh read, skipping the contested slot.
func (s *Service) IssueWalkIn(ctx context.Context, req WalkInRequest) (*WalkIn, error) {
	ctx, span := allocationTracer.Start(ctx, "allocation.issue_walkin")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.doctor_id", req.DoctorID))

	doc, err := s.doctors.Get(ctx, req.DoctorID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("allocation: load doctor: %w", err)
	}

	exclude := make(map[appointments.SlotKey]bool)
	for attempt := 1; ; attempt++ {
		walkIn, err := s.attempt(ctx, doc, req, exclude)
		if err == nil {
			return walkIn, nil
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) || attempt >= maxAttempts {
			s.metrics.ObserveAllocation(outcomeFor(err))
			span.RecordError(err)
			return nil, err
		}
		s.metrics.ObserveAllocation(metrics.OutcomeConflict)
		s.logger.Info("walk-in slot contested, retrying", "doctor_id", doc.ID, "slot", conflict.Slot.String(), "attempt", attempt)
		exclude[conflict.Slot] = true
	}
}

// attempt runs one read-reserve-commit pass.
func (s *Service) attempt(ctx context.Context, doc *doctors.Doctor, req WalkInRequest, exclude map[appointments.SlotKey]bool) (*WalkIn, error) {
	now := s.clock.Now()
	date := clock.DayKey(now)

	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	list, err := s.store.ListForDoctorDay(readCtx, doc.ID, date)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("allocation: list appointments: %w", err)
	}

	alloc, err := s.allocator.AllocateWalkInSlot(ctx, Request{
		Doctor:       doc,
		Appointments: list,
		Allotment:    doc.Allotment(s.allotment),
		ForceBook:    req.ForceBook,
		Exclude:      exclude,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.allocator.Release(context.WithoutCancel(ctx), alloc); err != nil {
			s.logger.Warn("failed to release slot reservation", "slot", alloc.Slot().String(), "error", err)
		}
	}()

	appt := s.buildAppointment(doc, req, alloc, date, now)
	if err := s.store.Create(ctx, appt); err != nil {
		if errors.Is(err, appointments.ErrSlotTaken) {
			return nil, &ConflictError{Slot: alloc.Slot()}
		}
		return nil, fmt.Errorf("allocation: commit walk-in: %w", err)
	}

	outcome := metrics.OutcomeAllocated
	if alloc.IsForceBooked {
		outcome = metrics.OutcomeForceBooked
	}
	s.metrics.ObserveAllocation(outcome)
	s.logger.Info("walk-in allocated",
		"appointment_id", appt.ID,
		"doctor_id", doc.ID,
		"token", appt.TokenNumber,
		"session_index", alloc.SessionIndex,
		"slot_index", alloc.SlotIndex,
		"force_booked", alloc.IsForceBooked,
	)
	s.record(ctx, appt, alloc, now)

	return &WalkIn{
		Appointment:   appt,
		EstimatedTime: alloc.EstimatedTime,
		PatientsAhead: alloc.PatientsAhead,
		Perceived:     alloc.Perceived,
		IsForceBooked: alloc.IsForceBooked,
	}, nil
}

func (s *Service) buildAppointment(doc *doctors.Doctor, req WalkInRequest, alloc *Allocation, date string, now time.Time) *appointments.Appointment {
	display := alloc.EstimatedTime
	if s.persistPerceived {
		display = alloc.Perceived.Time
	}
	cutOff, noShow := appointments.Derive(alloc.EstimatedTime)
	return &appointments.Appointment{
		ID:            uuid.NewString(),
		DoctorID:      doc.ID,
		DoctorName:    doc.Name,
		ClinicID:      doc.ClinicID,
		PatientName:   req.PatientName,
		Date:          date,
		Time:          clock.DisplayTime(display),
		ScheduledAt:   alloc.EstimatedTime,
		SessionIndex:  alloc.SessionIndex,
		SlotIndex:     alloc.SlotIndex,
		TokenNumber:   appointments.TokenNumber(true, alloc.NumericToken),
		NumericToken:  alloc.NumericToken,
		WalkIn:        true,
		IsForceBooked: alloc.IsForceBooked,
		// A walk-in is issued at the desk, so the patient is already present.
		Status:     appointments.StatusConfirmed,
		CutOffTime: cutOff,
		NoShowTime: noShow,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *Service) record(ctx context.Context, appt *appointments.Appointment, alloc *Allocation, now time.Time) {
	if s.publisher != nil {
		evt := events.WalkInAllocatedV1{
			EventID:       uuid.NewString(),
			ClinicID:      appt.ClinicID,
			DoctorID:      appt.DoctorID,
			AppointmentID: appt.ID,
			Date:          appt.Date,
			SessionIndex:  appt.SessionIndex,
			SlotIndex:     appt.SlotIndex,
			TokenNumber:   appt.TokenNumber,
			EstimatedTime: alloc.EstimatedTime,
			PatientsAhead: alloc.PatientsAhead,
			ForceBooked:   alloc.IsForceBooked,
			AllocatedAt:   now.UTC().Truncate(time.Second),
		}
		if err := s.publisher.Publish(ctx, appt.ClinicID, evt); err != nil {
			s.logger.Warn("failed to publish walk-in event", "appointment_id", appt.ID, "error", err)
		}
	}
	if alloc.IsForceBooked && s.auditor != nil {
		if err := s.auditor.LogForceBooking(ctx, appt.ClinicID, appt.DoctorID, appt.ID, appt.TokenNumber, alloc.EstimatedTime); err != nil {
			s.logger.Warn("failed to audit force booking", "appointment_id", appt.ID, "error", err)
		}
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		return metrics.OutcomeSlotUnavailable
	case errors.Is(err, ErrDoctorUnavailable):
		return metrics.OutcomeDoctorUnavailable
	case errors.Is(err, ErrReservationConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
