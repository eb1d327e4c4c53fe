package appointments

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/internal/events"
)

type recordingAuditor struct {
	mu          sync.Mutex
	transitions []string
}

func (a *recordingAuditor) LogTransition(_ context.Context, _, _, appointmentID, from, to, source string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transitions = append(a.transitions, appointmentID+":"+from+">"+to+":"+source)
	return nil
}

func testDoctor() doctors.Doctor {
	return doctors.Doctor{
		ID:                    "doc-1",
		ClinicID:              "clinic-1",
		Name:                  "Dr. Rao",
		AverageConsultingTime: 5,
		Availability: []doctors.DayAvailability{
			{Day: "Monday", Sessions: []doctors.TimeRange{{From: "09:00", To: "13:00"}, {From: "17:00", To: "20:00"}}},
		},
		ConsultationStatus: doctors.StatusIn,
	}
}

type serviceFixture struct {
	svc     *Service
	store   *MemoryStore
	clock   *clock.Fixed
	pub     *events.MemoryPublisher
	auditor *recordingAuditor
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:   NewMemoryStore(),
		clock:   clock.NewFixed(clockAt(8, 30)),
		pub:     events.NewMemoryPublisher(),
		auditor: &recordingAuditor{},
	}
	f.svc = NewService(f.store, doctors.NewInMemoryRepository(testDoctor()), f.clock, nil).
		WithPublisher(f.pub).
		WithAuditor(f.auditor)
	return f
}

func (f *serviceFixture) book(t *testing.T, session, slot int) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), BookRequest{
		DoctorID:     "doc-1",
		PatientName:  "Asha",
		Date:         "19 October 2026",
		SessionIndex: session,
		SlotIndex:    slot,
	})
	require.NoError(t, err)
	return appt
}

func TestBookDerivesSlotTimesAndToken(t *testing.T) {
	f := newServiceFixture(t)

	appt := f.book(t, 0, 2)
	assert.Equal(t, clockAt(9, 10), appt.ScheduledAt)
	assert.Equal(t, "09:10 AM", appt.Time)
	assert.Equal(t, clockAt(8, 55), appt.CutOffTime)
	assert.Equal(t, clockAt(9, 25), appt.NoShowTime)
	assert.Equal(t, "A3", appt.TokenNumber)
	assert.Equal(t, StatusPending, appt.Status)
	assert.False(t, appt.WalkIn)

	evening := f.book(t, 1, 0)
	assert.Equal(t, clockAt(17, 0), evening.ScheduledAt)
	assert.Equal(t, "A49", evening.TokenNumber)
}

func TestBookRejectsInvalidRequests(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.book(t, 0, 2)

	_, err := f.svc.Book(ctx, BookRequest{DoctorID: "doc-1", Date: "19 October 2026", SessionIndex: 0, SlotIndex: 2})
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = f.svc.Book(ctx, BookRequest{DoctorID: "doc-1", Date: "19 October 2026", SessionIndex: 0, SlotIndex: 48})
	assert.ErrorIs(t, err, ErrInvalidSlot)

	_, err = f.svc.Book(ctx, BookRequest{DoctorID: "doc-1", Date: "19 October 2026", SessionIndex: 2})
	assert.ErrorIs(t, err, doctors.ErrSessionIndex)

	_, err = f.svc.Book(ctx, BookRequest{DoctorID: "doc-1", Date: "2026-10-19"})
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = f.svc.Book(ctx, BookRequest{DoctorID: "doc-1", Date: "20 October 2026"})
	assert.ErrorIs(t, err, doctors.ErrNoSessions)

	_, err = f.svc.Book(ctx, BookRequest{DoctorID: "ghost", Date: "19 October 2026"})
	assert.ErrorIs(t, err, doctors.ErrDoctorNotFound)
}

func TestAdvanceSkipsThenNoShows(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	appt := f.book(t, 0, 2)

	f.clock.Set(clockAt(9, 0))
	skipped, changed, err := f.svc.Advance(ctx, *appt)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, StatusSkipped, skipped.Status)

	_, changed, err = f.svc.Advance(ctx, *skipped)
	require.NoError(t, err)
	assert.False(t, changed)

	f.clock.Set(clockAt(9, 25))
	noShow, changed, err := f.svc.Advance(ctx, *skipped)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, StatusNoShow, noShow.Status)

	changes := f.pub.OfType(events.TypeAppointmentStatusChange)
	require.Len(t, changes, 2)
	last := changes[1].(events.AppointmentStatusChangedV1)
	assert.Equal(t, "Skipped", last.From)
	assert.Equal(t, "No-show", last.To)
	assert.Equal(t, SourceSweep, last.Source)
	assert.Len(t, f.auditor.transitions, 2)
}

func TestAdvanceLosingRaceIsNotAnError(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	appt := f.book(t, 0, 2)

	f.clock.Set(clockAt(8, 50))
	_, err := f.svc.CheckIn(ctx, appt.ID)
	require.NoError(t, err)

	f.clock.Set(clockAt(9, 0))
	_, changed, err := f.svc.Advance(ctx, *appt)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := f.store.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
}

func TestCheckInOnTimeKeepsSlot(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, 0, 2)

	f.clock.Set(clockAt(8, 50))
	got, err := f.svc.CheckIn(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Nil(t, got.RequeuedFor)

	again, err := f.svc.CheckIn(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, again.Status)
	assert.Len(t, f.pub.Events(), 1)
}

func TestLateCheckInRejoinsBehindNoShowDeadline(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, 0, 2)

	f.clock.Set(clockAt(9, 20))
	got, err := f.svc.CheckIn(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.RequeuedFor)
	assert.Equal(t, clockAt(9, 40), *got.RequeuedFor)
	assert.Equal(t, clockAt(9, 40), EffectiveTime(*got, clockAt(9, 20)))
}

func TestCheckInAfterNoShowDeadlineFails(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, 0, 2)

	f.clock.Set(clockAt(9, 30))
	_, err := f.svc.CheckIn(context.Background(), appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStartConsultationIsExclusivePerDoctorDay(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.book(t, 0, 0)
	second := f.book(t, 0, 1)

	_, err := f.svc.StartConsultation(ctx, first.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending patients cannot be seen")

	f.clock.Set(clockAt(8, 40))
	_, err = f.svc.CheckIn(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.svc.Arrive(ctx, second.ID)
	require.NoError(t, err)

	started, err := f.svc.StartConsultation(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, started.InConsultation())

	_, err = f.svc.StartConsultation(ctx, second.ID)
	assert.ErrorIs(t, err, ErrConsultationInProgress)

	done, err := f.svc.Complete(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.svc.StartConsultation(ctx, second.ID)
	require.NoError(t, err)
}

// staleFirstList serves the snapshot captured at construction on the first
// day read, standing in for a start that lands between check and write.
type staleFirstList struct {
	*MemoryStore
	stale []Appointment
	reads int
}

func (s *staleFirstList) ListForDoctorDay(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	s.reads++
	if s.reads == 1 {
		return s.stale, nil
	}
	return s.MemoryStore.ListForDoctorDay(ctx, doctorID, date)
}

func TestStartConsultationWithdrawsConcurrentStart(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.book(t, 0, 0)
	second := f.book(t, 0, 1)
	f.clock.Set(clockAt(8, 40))
	_, err := f.svc.CheckIn(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.svc.CheckIn(ctx, second.ID)
	require.NoError(t, err)

	snapshot, err := f.store.ListForDoctorDay(ctx, "doc-1", "19 October 2026")
	require.NoError(t, err)
	_, err = f.svc.StartConsultation(ctx, first.ID)
	require.NoError(t, err)

	racing := NewService(&staleFirstList{MemoryStore: f.store, stale: snapshot}, doctors.NewInMemoryRepository(testDoctor()), f.clock, nil)
	_, err = racing.StartConsultation(ctx, second.ID)
	assert.ErrorIs(t, err, ErrConsultationInProgress)

	stored, err := f.store.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, stored.InConsultation())
	assert.Equal(t, StatusConfirmed, stored.Status)

	kept, err := f.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, kept.InConsultation())
}

func TestCompleteRequiresPresence(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, 0, 3)

	_, err := f.svc.Complete(context.Background(), appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelFreesSlot(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	appt := f.book(t, 0, 2)

	cancelled, err := f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	rebooked := f.book(t, 0, 2)
	assert.NotEqual(t, appt.ID, rebooked.ID)
}

func TestArriveFromLapsedStatusFails(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, 0, 2)

	f.clock.Set(clockAt(9, 0))
	_, err := f.svc.Arrive(context.Background(), appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
