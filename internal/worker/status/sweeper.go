// Package statusworker periodically settles time-driven state: appointment
// statuses that passed a deadline and doctors whose day is over.
package statusworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/archive"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/internal/events"
	"github.com/wolfman30/frontdesk-queue/internal/observability/metrics"
	"github.com/wolfman30/frontdesk-queue/internal/queue"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

var sweepTracer = otel.Tracer("frontdesk.internal.worker.status")

type doctorStore interface {
	List(ctx context.Context) ([]doctors.Doctor, error)
	UpdateConsultationStatus(ctx context.Context, id string, from, to doctors.ConsultationStatus) (bool, error)
}

type advancer interface {
	Advance(ctx context.Context, a appointments.Appointment) (*appointments.Appointment, bool, error)
}

type auditor interface {
	LogDoctorStatus(ctx context.Context, clinicID, doctorID, from, to, source string) error
	LogSweep(ctx context.Context, clinicID, doctorID, date string, affected []string) error
}

type dayArchiver interface {
	ArchiveDay(ctx context.Context, snap *archive.DaySnapshot) error
}

// Result summarises one sweep across every doctor.
type Result struct {
	Doctors       int `json:"doctors"`
	Advanced      int `json:"advanced"`
	StatusChanges int `json:"status_changes"`
	Archived      int `json:"archived"`
	Failed        int `json:"failed"`
}

// Sweeper advances lapsed appointments and updates doctor In/Out status.
type Sweeper struct {
	doctors   doctorStore
	store     appointments.Store
	advancer  advancer
	clock     clock.Clock
	interval  time.Duration
	grace     time.Duration
	publisher events.Publisher
	auditor   auditor
	archiver  dayArchiver
	metrics   *metrics.QueueMetrics
	logger    *logging.Logger

	mu       sync.Mutex
	archived map[string]string // doctor ID -> day key last archived
}

func NewSweeper(doctorStore doctorStore, store appointments.Store, adv advancer, clk clock.Clock, logger *logging.Logger) *Sweeper {
	if doctorStore == nil || store == nil || adv == nil {
		panic("statusworker: doctor store, appointment store and advancer required")
	}
	if clk == nil {
		clk = clock.NewClinic(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		doctors:  doctorStore,
		store:    store,
		advancer: adv,
		clock:    clk,
		interval: time.Minute,
		grace:    15 * time.Minute,
		logger:   logger,
		archived: make(map[string]string),
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithCloseGrace sets how long before the last session ends an idle doctor
// is marked Out.
func (s *Sweeper) WithCloseGrace(d time.Duration) *Sweeper {
	if d >= 0 {
		s.grace = d
	}
	return s
}

func (s *Sweeper) WithPublisher(p events.Publisher) *Sweeper {
	s.publisher = p
	return s
}

func (s *Sweeper) WithAuditor(a auditor) *Sweeper {
	s.auditor = a
	return s
}

func (s *Sweeper) WithArchiver(a dayArchiver) *Sweeper {
	s.archiver = a
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.QueueMetrics) *Sweeper {
	s.metrics = m
	return s
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Sweeper) drain(ctx context.Context) {
	res, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("status sweep failed", "error", err)
		return
	}
	if res.Advanced > 0 || res.StatusChanges > 0 || res.Archived > 0 || res.Failed > 0 {
		s.logger.Info("status sweep complete",
			"doctors", res.Doctors,
			"advanced", res.Advanced,
			"status_changes", res.StatusChanges,
			"archived", res.Archived,
			"failed", res.Failed,
		)
	}
}

// SweepOnce runs one pass over every doctor. A failure for one doctor is
// logged and counted; it does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	ctx, span := sweepTracer.Start(ctx, "status.sweep")
	defer span.End()

	docs, err := s.doctors.List(ctx)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("statusworker: list doctors: %w", err)
	}

	var res Result
	for i := range docs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Doctors++
		if err := s.sweepDoctor(ctx, &docs[i], &res); err != nil {
			res.Failed++
			s.logger.Warn("doctor sweep failed", "doctor_id", docs[i].ID, "error", err)
		}
	}
	span.SetAttributes(
		attribute.Int("frontdesk.doctors", res.Doctors),
		attribute.Int("frontdesk.advanced", res.Advanced),
	)
	return res, nil
}

func (s *Sweeper) sweepDoctor(ctx context.Context, doc *doctors.Doctor, res *Result) error {
	now := s.clock.Now()
	date := clock.DayKey(now)

	list, err := s.store.ListForDoctorDay(ctx, doc.ID, date)
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}

	var affected []string
	for i := range list {
		updated, changed, err := s.advancer.Advance(ctx, list[i])
		if err != nil {
			s.logger.Warn("appointment advance failed", "appointment_id", list[i].ID, "error", err)
			continue
		}
		if changed {
			affected = append(affected, updated.ID)
			list[i] = *updated
		}
	}
	res.Advanced += len(affected)
	if len(affected) > 0 && s.auditor != nil {
		if err := s.auditor.LogSweep(ctx, doc.ClinicID, doc.ID, date, affected); err != nil {
			s.logger.Warn("failed to audit sweep", "doctor_id", doc.ID, "error", err)
		}
	}

	counts := queue.ActiveCounts(list, now)
	queueEmpty := len(counts) == 0
	status := doc.ConsultationStatus
	if next, changed := doctors.NextConsultationStatus(doc, now, queueEmpty, counts, s.grace); changed {
		ok, err := s.doctors.UpdateConsultationStatus(ctx, doc.ID, status, next)
		if err != nil {
			if errors.Is(err, doctors.ErrDoctorNotFound) {
				return nil
			}
			return fmt.Errorf("update consultation status: %w", err)
		}
		if !ok {
			// Staff changed the status since the read; theirs wins.
			s.logger.Debug("doctor status changed underneath sweep", "doctor_id", doc.ID)
			return nil
		}
		res.StatusChanges++
		s.recordStatus(ctx, doc, status, next, now)
		status = next
	}

	// A closed day is archived once, whether the sweep or staff sent the
	// doctor Out.
	if status == doctors.StatusOut && queueEmpty && dayClosed(doc, now, counts, s.grace) && !s.wasArchived(doc.ID, date) {
		if err := s.archiveDay(ctx, doc, date, list, now); err != nil {
			s.logger.Warn("failed to archive doctor day", "doctor_id", doc.ID, "date", date, "error", err)
		} else if s.archiver != nil {
			s.markArchived(doc.ID, date)
			res.Archived++
		}
	}
	return nil
}

func (s *Sweeper) wasArchived(doctorID, date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archived[doctorID] == date
}

func (s *Sweeper) markArchived(doctorID, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[doctorID] = date
}

func (s *Sweeper) recordStatus(ctx context.Context, doc *doctors.Doctor, from, to doctors.ConsultationStatus, now time.Time) {
	s.metrics.ObserveDoctorStatus(string(to), appointments.SourceSweep)
	s.logger.Info("doctor status updated", "doctor_id", doc.ID, "from", from, "to", to)
	if s.publisher != nil {
		evt := events.DoctorStatusChangedV1{
			EventID:   uuid.NewString(),
			ClinicID:  doc.ClinicID,
			DoctorID:  doc.ID,
			From:      string(from),
			To:        string(to),
			Source:    appointments.SourceSweep,
			ChangedAt: now.UTC().Truncate(time.Second),
		}
		if err := s.publisher.Publish(ctx, doc.ClinicID, evt); err != nil {
			s.logger.Warn("failed to publish doctor status event", "doctor_id", doc.ID, "error", err)
		}
	}
	if s.auditor != nil {
		if err := s.auditor.LogDoctorStatus(ctx, doc.ClinicID, doc.ID, string(from), string(to), appointments.SourceSweep); err != nil {
			s.logger.Warn("failed to audit doctor status", "doctor_id", doc.ID, "error", err)
		}
	}
}

func (s *Sweeper) archiveDay(ctx context.Context, doc *doctors.Doctor, date string, list []appointments.Appointment, now time.Time) error {
	if s.archiver == nil {
		return nil
	}
	return s.archiver.ArchiveDay(ctx, &archive.DaySnapshot{
		ClinicID:     doc.ClinicID,
		DoctorID:     doc.ID,
		DoctorName:   doc.Name,
		Date:         date,
		ArchivedAt:   now.UTC(),
		Totals:       archive.Summarize(list),
		Appointments: list,
	})
}

// dayClosed is true from the closing grace window of the last session on.
// A doctor sent Out for a break is not closed.
func dayClosed(doc *doctors.Doctor, now time.Time, counts map[int]int, grace time.Duration) bool {
	end, ok := doctors.LatestEnd(doc, now, counts)
	return ok && !now.Before(end.Add(-grace))
}
