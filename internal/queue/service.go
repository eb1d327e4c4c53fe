package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/internal/observability/metrics"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

var queueTracer = otel.Tracer("frontdesk.internal.queue")

// ErrInvalidDate is returned when the requested day cannot be parsed.
var ErrInvalidDate = errors.New("queue: invalid date")

const defaultStoreTimeout = 5 * time.Second

// DoctorReader loads doctor configuration.
type DoctorReader interface {
	Get(ctx context.Context, id string) (*doctors.Doctor, error)
}

// Request selects the queue to compute. Date defaults to today; SessionIndex
// defaults to the viewer's session, then the open session.
type Request struct {
	DoctorID     string
	Date         string
	SessionIndex *int
	Viewer       *Viewer
}

// Service reads a doctor's day and computes queue snapshots.
type Service struct {
	store   appointments.Store
	doctors DoctorReader
	clock   clock.Clock
	preOpen time.Duration
	timeout time.Duration
	metrics *metrics.QueueMetrics
	logger  *logging.Logger
}

// NewService constructs a queue snapshot service.
func NewService(store appointments.Store, doctorReader DoctorReader, clk clock.Clock, logger *logging.Logger) *Service {
	if store == nil {
		panic("queue: store required")
	}
	if doctorReader == nil {
		panic("queue: doctor reader required")
	}
	if clk == nil {
		clk = clock.NewClinic(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:   store,
		doctors: doctorReader,
		clock:   clk,
		preOpen: 30 * time.Minute,
		timeout: defaultStoreTimeout,
		logger:  logger,
	}
}

func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *Service) WithPreOpen(d time.Duration) *Service {
	if d >= 0 {
		s.preOpen = d
	}
	return s
}

func (s *Service) WithMetrics(m *metrics.QueueMetrics) *Service {
	s.metrics = m
	return s
}

// Snapshot computes the queue for req. Store failures are served as an empty,
// degraded state; only an unknown doctor or a bad date is an error.
func (s *Service) Snapshot(ctx context.Context, req Request) (State, error) {
	ctx, span := queueTracer.Start(ctx, "queue.snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.doctor_id", req.DoctorID))

	start := time.Now()
	now := s.clock.Now()
	date := req.Date
	if date == "" {
		date = clock.DayKey(now)
	} else if _, err := clock.ParseDayKey(date, now.Location()); err != nil {
		return State{}, ErrInvalidDate
	}

	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc, err := s.doctors.Get(readCtx, req.DoctorID)
	if err != nil {
		if errors.Is(err, doctors.ErrDoctorNotFound) {
			return State{}, err
		}
		return s.degraded(req, date, now, start, fmt.Errorf("load doctor: %w", err)), nil
	}

	list, err := s.store.ListForDoctorDay(readCtx, req.DoctorID, date)
	if err != nil {
		span.RecordError(err)
		return s.degraded(req, date, now, start, fmt.Errorf("list appointments: %w", err)), nil
	}

	state := ComputeQueues(Input{
		Appointments: list,
		DoctorID:     doc.ID,
		ClinicID:     doc.ClinicID,
		Date:         date,
		SessionIndex: s.resolveSession(doc, req, list, date, now),
		DoctorIn:     doc.IsIn(),
		AverageTime:  doc.ConsultDuration(),
		Now:          now,
		Viewer:       req.Viewer,
	})
	annotate(&state)
	span.SetAttributes(attribute.Int("frontdesk.session_index", state.SessionIndex))
	s.metrics.ObserveCompute("ok", time.Since(start).Seconds())
	return state, nil
}

func (s *Service) degraded(req Request, date string, now, start time.Time, err error) State {
	idx := 0
	if req.SessionIndex != nil {
		idx = *req.SessionIndex
	}
	s.logger.Warn("queue snapshot degraded to empty", "doctor_id", req.DoctorID, "date", date, "error", err)
	s.metrics.ObserveDegradedRead("queue")
	s.metrics.ObserveCompute("degraded", time.Since(start).Seconds())
	state := Empty(req.DoctorID, date, idx, now)
	state.Degraded = true
	return state
}

func (s *Service) resolveSession(doc *doctors.Doctor, req Request, list []appointments.Appointment, date string, now time.Time) int {
	if req.SessionIndex != nil {
		return *req.SessionIndex
	}
	if req.Viewer != nil {
		for _, a := range list {
			if a.ID == req.Viewer.AppointmentID {
				return a.SessionIndex
			}
		}
	}
	if date != clock.DayKey(now) {
		return 0
	}
	counts := ActiveCounts(list, now)
	if w, ok := doctors.ActiveSession(doc, now, s.preOpen, counts); ok {
		return w.Index
	}
	windows, err := doctors.DayWindows(doc, now, counts)
	if err != nil || len(windows) == 0 {
		return 0
	}
	for _, w := range windows {
		if now.Before(w.End) {
			return w.Index
		}
	}
	return windows[len(windows)-1].Index
}

// annotate copies each appointment's propagated delay onto its display field.
func annotate(state *State) {
	if state.Current != nil {
		state.Current.DoctorDelayMinutes = state.Delays[state.Current.ID]
	}
	for i := range state.Buffer {
		state.Buffer[i].DoctorDelayMinutes = state.Delays[state.Buffer[i].ID]
	}
	for i := range state.Arrived {
		state.Arrived[i].DoctorDelayMinutes = state.Delays[state.Arrived[i].ID]
	}
}
