package doctors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
)

// 19 October 2026 is a Monday.
func at(hour, min int) time.Time {
	return time.Date(2026, 10, 19, hour, min, 0, 0, time.UTC)
}

func testDoctor() *Doctor {
	return &Doctor{
		ID:                    "doc-1",
		ClinicID:              "clinic-1",
		Name:                  "Dr. Rao",
		AverageConsultingTime: 5,
		Availability: []DayAvailability{
			{Day: "Monday", Sessions: []TimeRange{{From: "09:00", To: "13:00"}, {From: "17:00", To: "20:00"}}},
			{Day: "Tuesday", Sessions: []TimeRange{{From: "10:00", To: "12:00"}}},
		},
		ConsultationStatus: StatusIn,
	}
}

func TestSessionsResolvesDeclaredRanges(t *testing.T) {
	windows, err := Sessions(testDoctor(), at(11, 0))
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, at(9, 0), windows[0].Start)
	assert.Equal(t, at(13, 0), windows[0].End)
	assert.Equal(t, 1, windows[1].Index)
	assert.Equal(t, at(17, 0), windows[1].Start)
	assert.Equal(t, 48, windows[0].Capacity(5*time.Minute))
}

func TestSessionsNoAvailability(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	_, err := Sessions(testDoctor(), sunday)
	assert.ErrorIs(t, err, ErrNoSessions)
}

func TestSessionsRejectsInvertedRange(t *testing.T) {
	d := testDoctor()
	d.Availability[0].Sessions = []TimeRange{{From: "13:00", To: "09:00"}}
	_, err := Sessions(d, at(10, 0))
	assert.Error(t, err)
}

func TestBreakCoveringStartPushesSession(t *testing.T) {
	d := testDoctor()
	d.BreakPeriods = map[string][]Interval{
		clock.DayKey(at(0, 0)): {{Start: at(8, 45), End: at(9, 20)}},
	}

	windows, err := Sessions(d, at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, at(9, 20), windows[0].Start)
	assert.Equal(t, at(13, 20), windows[0].End)
	assert.Equal(t, at(9, 0), windows[0].DeclaredStart)
	assert.Equal(t, 48, windows[0].Capacity(5*time.Minute))
}

func TestChainedBreaksPushPastBoth(t *testing.T) {
	d := testDoctor()
	d.BreakPeriods = map[string][]Interval{
		clock.DayKey(at(0, 0)): {
			{Start: at(9, 10), End: at(9, 30)},
			{Start: at(8, 50), End: at(9, 10)},
		},
	}
	windows, err := Sessions(d, at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, at(9, 30), windows[0].Start)
}

func TestBreakInsideSessionDoesNotShiftStart(t *testing.T) {
	d := testDoctor()
	d.BreakPeriods = map[string][]Interval{
		clock.DayKey(at(0, 0)): {{Start: at(11, 0), End: at(11, 30)}},
	}
	windows, err := Sessions(d, at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, at(9, 0), windows[0].Start)
	assert.True(t, InBreak(d, at(11, 10)))
	assert.False(t, InBreak(d, at(11, 30)))
}

func TestSessionWindowOvertime(t *testing.T) {
	d := testDoctor()

	w, err := SessionWindow(d, at(0, 0), 0, 3, at(12, 58))
	require.NoError(t, err)
	assert.Equal(t, at(13, 13), w.End)
	assert.True(t, w.Overtime)

	w, err = SessionWindow(d, at(0, 0), 0, 0, at(12, 58))
	require.NoError(t, err)
	assert.Equal(t, at(13, 0), w.End)
	assert.False(t, w.Overtime)

	// plenty of time left, declared end wins
	w, err = SessionWindow(d, at(0, 0), 0, 2, at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, at(13, 0), w.End)

	_, err = SessionWindow(d, at(0, 0), 5, 0, at(10, 0))
	assert.ErrorIs(t, err, ErrSessionIndex)
}

func TestActiveSession(t *testing.T) {
	d := testDoctor()
	pre := 30 * time.Minute

	tests := []struct {
		name   string
		now    time.Time
		counts map[int]int
		want   int
		ok     bool
	}{
		{name: "inside morning", now: at(10, 0), want: 0, ok: true},
		{name: "pre-open buffer", now: at(8, 35), want: 0, ok: true},
		{name: "too early", now: at(8, 20), ok: false},
		{name: "between sessions", now: at(14, 0), ok: false},
		{name: "morning overtime", now: at(13, 10), counts: map[int]int{0: 2}, want: 0, ok: true},
		{name: "evening pre-open", now: at(16, 40), want: 1, ok: true},
		{name: "after close", now: at(20, 0), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := ActiveSession(d, tt.now, pre, tt.counts)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, w.Index)
			}
		})
	}
}

func TestIsWithinGraceOfClose(t *testing.T) {
	d := testDoctor()
	grace := 15 * time.Minute

	assert.True(t, IsWithinGraceOfClose(d, at(19, 50), grace, nil))
	assert.True(t, IsWithinGraceOfClose(d, at(19, 45), grace, nil))
	assert.False(t, IsWithinGraceOfClose(d, at(19, 40), grace, nil))
	assert.False(t, IsWithinGraceOfClose(d, at(20, 0), grace, nil))
	// overtime moves the close
	assert.False(t, IsWithinGraceOfClose(d, at(19, 50), grace, map[int]int{1: 6}))
}

func TestBaseTokenAndSlots(t *testing.T) {
	d := testDoctor()
	windows, err := Sessions(d, at(10, 0))
	require.NoError(t, err)
	avg := d.ConsultDuration()

	assert.Equal(t, 1, BaseToken(windows, 0, avg))
	assert.Equal(t, 49, BaseToken(windows, 1, avg))

	assert.Equal(t, 0, windows[0].SlotAt(at(9, 2), avg))
	assert.Equal(t, 1, windows[0].SlotAt(at(9, 7), avg))
	assert.Equal(t, 0, windows[0].SlotAt(at(8, 40), avg))
	assert.Equal(t, at(9, 10), windows[0].SlotTime(2, avg))
}

func TestDoctorDefaults(t *testing.T) {
	d := &Doctor{}
	assert.Equal(t, 10*time.Minute, d.ConsultDuration())
	assert.Equal(t, 5, d.Allotment(5))
	d.WalkInAllotment = 8
	assert.Equal(t, 8, d.Allotment(5))
	assert.False(t, d.IsIn())
}
