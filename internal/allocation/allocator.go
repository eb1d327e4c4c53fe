// Package allocation issues walk-in tokens: it picks the next free walk-in
// slot under a short-lived reservation, or an overflow slot at the end of the
// day when the caller asks to force-book.
package allocation

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
	"github.com/wolfman30/frontdesk-queue/internal/queue"
)

var allocationTracer = otel.Tracer("frontdesk.internal.allocation")

// Request is one walk-in allocation against a snapshot of the doctor's day.
type Request struct {
	Doctor *doctors.Doctor
	// Appointments is every appointment the doctor has today, any status.
	Appointments []appointments.Appointment
	Allotment    int
	ForceBook    bool
	// Exclude lists slots that lost a reservation race on an earlier attempt.
	Exclude map[appointments.SlotKey]bool
}

// Allocation is a reserved slot with its literal and perceived estimates.
type Allocation struct {
	SessionIndex  int       `json:"session_index"`
	SlotIndex     int       `json:"slot_index"`
	NumericToken  int       `json:"numeric_token"`
	EstimatedTime time.Time `json:"estimated_time"`
	PatientsAhead int       `json:"patients_ahead"`
	Perceived     Estimate  `json:"perceived"`
	IsForceBooked bool      `json:"is_force_booked"`
	Lease         Lease     `json:"-"`
}

// Slot returns the slot key the allocation reserved.
func (a *Allocation) Slot() appointments.SlotKey {
	return a.Lease.Key
}

// Allocator picks and reserves walk-in slots.
type Allocator struct {
	reservations Reservations
	clock        clock.Clock
	lease        time.Duration
	preOpen      time.Duration
	policy       EstimatePolicy
	metrics      *metrics.QueueMetrics
}

// NewAllocator creates an allocator with a literal estimate policy, the
// default lease and a 30 minute pre-open window.
func NewAllocator(reservations Reservations, clk clock.Clock) *Allocator {
	if reservations == nil {
		panic("allocation: reservations required")
	}
	if clk == nil {
		clk = clock.NewClinic(nil)
	}
	return &Allocator{
		reservations: reservations,
		clock:        clk,
		lease:        DefaultLease,
		preOpen:      30 * time.Minute,
		policy:       LiteralPolicy{},
	}
}

func (a *Allocator) WithLease(d time.Duration) *Allocator {
	if d > 0 {
		a.lease = d
	}
	return a
}

func (a *Allocator) WithPreOpen(d time.Duration) *Allocator {
	if d >= 0 {
		a.preOpen = d
	}
	return a
}

func (a *Allocator) WithPolicy(p EstimatePolicy) *Allocator {
	if p != nil {
		a.policy = p
	}
	return a
}

func (a *Allocator) WithMetrics(m *metrics.QueueMetrics) *Allocator {
	a.metrics = m
	return a
}

// Release drops the allocation's reservation.
func (a *Allocator) Release(ctx context.Context, alloc *Allocation) error {
	if alloc == nil {
		return nil
	}
	return a.reservations.Release(ctx, alloc.Lease)
}

// AllocateWalkInSlot reserves the next walk-in slot.
//
// The open session is tried first, then later sessions today. A session has
// room while its walk-in count is under the allotment and a slot at or after
// the current grid cell is neither held by an appointment nor excluded. When
// no session has room the call fails with ErrSlotUnavailable unless
// ForceBook is set, in which case a slot past the final session's capacity
// is reserved. A reservation held by someone else fails the whole call with
// ErrReservationConflict; it is never retried here.
func (a *Allocator) AllocateWalkInSlot(ctx context.Context, req Request) (*Allocation, error) {
	ctx, span := allocationTracer.Start(ctx, "allocation.allocate_walkin")
	defer span.End()
	if req.Doctor == nil {
		return nil, ErrDoctorUnavailable
	}
	span.SetAttributes(
		attribute.String("frontdesk.doctor_id", req.Doctor.ID),
		attribute.Bool("frontdesk.force_book", req.ForceBook),
	)

	now := a.clock.Now()
	doc := req.Doctor
	avg := doc.ConsultDuration()
	counts := queue.ActiveCounts(req.Appointments, now)

	windows, err := doctors.DayWindows(doc, now, counts)
	if err != nil {
		if errors.Is(err, doctors.ErrNoSessions) {
			return nil, ErrDoctorUnavailable
		}
		return nil, fmt.Errorf("allocation: resolve sessions: %w", err)
	}
	active, ok := doctors.ActiveSession(doc, now, a.preOpen, counts)
	if !ok {
		return nil, ErrDoctorUnavailable
	}

	date := clock.DayKey(now)
	held := heldSlots(req.Appointments)
	walkIns := walkInCounts(req.Appointments)

	for _, w := range windows {
		if w.Index < active.Index || walkIns[w.Index] >= req.Allotment {
			continue
		}
		from := 0
		if w.Index == active.Index {
			from = w.SlotAt(now, avg)
		}
		for slot := from; slot < w.Capacity(avg); slot++ {
			key := appointments.SlotKey{DoctorID: doc.ID, Date: date, SessionIndex: w.Index, SlotIndex: slot}
			if held[key] || req.Exclude[key] {
				continue
			}
			estimate := w.SlotTime(slot, avg)
			if cell := w.SlotTime(w.SlotAt(now, avg), avg); estimate.Before(cell) {
				estimate = cell
			}
			return a.reserve(ctx, allocCandidate{
				key:      key,
				numeric:  doctors.BaseToken(windows, w.Index, avg) + slot,
				estimate: estimate,
			}, req, avg, now)
		}
	}

	if !req.ForceBook {
		span.SetAttributes(attribute.Bool("frontdesk.exhausted", true))
		return nil, ErrSlotUnavailable
	}

	final := windows[len(windows)-1]
	slot := final.Capacity(avg)
	for key := range held {
		if key.SessionIndex == final.Index && key.SlotIndex >= slot {
			slot = key.SlotIndex + 1
		}
	}
	key := appointments.SlotKey{DoctorID: doc.ID, Date: date, SessionIndex: final.Index, SlotIndex: slot}
	for req.Exclude[key] {
		key.SlotIndex++
	}
	return a.reserve(ctx, allocCandidate{
		key:     key,
		numeric: doctors.BaseToken(windows, final.Index, avg) + key.SlotIndex,
		// The overflow patient is seen after everyone already booked today.
		estimate: overflowEstimate(req.Appointments, final, avg, now),
		forced:   true,
	}, req, avg, now)
}

type allocCandidate struct {
	key      appointments.SlotKey
	numeric  int
	estimate time.Time
	forced   bool
}

func (a *Allocator) reserve(ctx context.Context, c allocCandidate, req Request, avg time.Duration, now time.Time) (*Allocation, error) {
	lease, err := a.reservations.Reserve(ctx, c.key, a.lease)
	if err != nil {
		if errors.Is(err, ErrReservationConflict) {
			a.metrics.ObserveReservation(false)
			return nil, &ConflictError{Slot: c.key}
		}
		return nil, err
	}
	a.metrics.ObserveReservation(true)

	provisional := appointments.Appointment{
		ID:           "~provisional",
		SessionIndex: c.key.SessionIndex,
		ScheduledAt:  c.estimate,
		NumericToken: c.numeric,
		Status:       appointments.StatusConfirmed,
	}
	ahead := queue.PatientsAheadOf(req.Appointments, provisional, now)

	literal := Estimate{Time: c.estimate, PatientsAhead: ahead}
	return &Allocation{
		SessionIndex:  c.key.SessionIndex,
		SlotIndex:     c.key.SlotIndex,
		NumericToken:  c.numeric,
		EstimatedTime: c.estimate,
		PatientsAhead: ahead,
		Perceived:     a.policy.Perceive(literal, avg, now),
		IsForceBooked: c.forced,
		Lease:         lease,
	}, nil
}

func heldSlots(list []appointments.Appointment) map[appointments.SlotKey]bool {
	held := make(map[appointments.SlotKey]bool, len(list))
	for i := range list {
		if list[i].Status != appointments.StatusCancelled {
			held[list[i].Slot()] = true
		}
	}
	return held
}

func walkInCounts(list []appointments.Appointment) map[int]int {
	counts := make(map[int]int)
	for _, a := range list {
		if a.WalkIn && !a.IsForceBooked && a.Status != appointments.StatusCancelled {
			counts[a.SessionIndex]++
		}
	}
	return counts
}

// overflowEstimate is the latest appointment time today plus one average
// consultation, never earlier than now. With nothing booked it is the final
// session's start.
func overflowEstimate(list []appointments.Appointment, final doctors.Window, avg time.Duration, now time.Time) time.Time {
	var last time.Time
	for _, a := range list {
		if a.Status == appointments.StatusCancelled {
			continue
		}
		if t := appointments.EffectiveTime(a, now); t.After(last) {
			last = t
		}
	}
	estimate := final.Start
	if !last.IsZero() {
		estimate = last.Add(avg)
	}
	if estimate.Before(now) {
		estimate = now
	}
	return estimate
}
