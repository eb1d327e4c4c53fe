package doctors

import (
	"fmt"
	"sort"
	"time"

	"github.com/wolfman30/frontdesk-queue/internal/clock"
)

// Window is one concrete session on a calendar day. Start/End are effective
// (break-shifted, overtime-extended); the declared pair is kept for capacity.
type Window struct {
	Index         int       `json:"session_index"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	DeclaredStart time.Time `json:"declared_start"`
	DeclaredEnd   time.Time `json:"declared_end"`
	Overtime      bool      `json:"overtime,omitempty"`
}

// Contains reports whether t is inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Capacity is the number of slots the declared session length holds.
func (w Window) Capacity(avg time.Duration) int {
	if avg <= 0 {
		return 0
	}
	return int(w.DeclaredEnd.Sub(w.DeclaredStart) / avg)
}

// SlotTime is the nominal start of slot inside the window.
func (w Window) SlotTime(slot int, avg time.Duration) time.Time {
	return w.Start.Add(time.Duration(slot) * avg)
}

// SlotAt returns the slot grid cell containing t, never below zero.
func (w Window) SlotAt(t time.Time, avg time.Duration) int {
	if avg <= 0 || !t.After(w.Start) {
		return 0
	}
	return int(t.Sub(w.Start) / avg)
}

// BreakIntervals returns the doctor's breaks for day, ordered by start.
func BreakIntervals(d *Doctor, day time.Time) []Interval {
	if d == nil || len(d.BreakPeriods) == 0 {
		return nil
	}
	src := d.BreakPeriods[clock.DayKey(day)]
	out := make([]Interval, 0, len(src))
	for _, b := range src {
		if b.End.After(b.Start) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// InBreak reports whether now falls inside one of today's breaks.
func InBreak(d *Doctor, now time.Time) bool {
	for _, b := range BreakIntervals(d, now) {
		if b.Contains(now) {
			return true
		}
	}
	return false
}

// Sessions resolves the doctor's declared sessions for day into windows. A
// break covering a session's start pushes the whole session back by the
// overlap. Overtime is not applied.
func Sessions(d *Doctor, day time.Time) ([]Window, error) {
	day = clock.StartOfDay(day)
	ranges := d.SessionsFor(day.Weekday())
	if len(ranges) == 0 {
		return nil, ErrNoSessions
	}
	breaks := BreakIntervals(d, day)

	windows := make([]Window, 0, len(ranges))
	for i, r := range ranges {
		start, err := clock.AtClock(day, r.From)
		if err != nil {
			return nil, fmt.Errorf("doctors: session %d: %w", i, err)
		}
		end, err := clock.AtClock(day, r.To)
		if err != nil {
			return nil, fmt.Errorf("doctors: session %d: %w", i, err)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("doctors: session %d ends before it starts (%s-%s)", i, r.From, r.To)
		}
		effective := start
		for _, b := range breaks {
			if b.Contains(effective) {
				effective = b.End
			}
		}
		shift := effective.Sub(start)
		windows = append(windows, Window{
			Index:         i,
			Start:         effective,
			End:           end.Add(shift),
			DeclaredStart: start,
			DeclaredEnd:   end,
		})
	}
	return windows, nil
}

// SessionWindow returns one session for day with the overtime allowance
// applied for activeCount appointments still waiting at now.
func SessionWindow(d *Doctor, day time.Time, sessionIndex, activeCount int, now time.Time) (Window, error) {
	windows, err := Sessions(d, day)
	if err != nil {
		return Window{}, err
	}
	if sessionIndex < 0 || sessionIndex >= len(windows) {
		return Window{}, ErrSessionIndex
	}
	return withOvertime(windows[sessionIndex], activeCount, d.ConsultDuration(), now), nil
}

// withOvertime keeps the session open while appointments remain: the end
// becomes the later of the declared end and now plus the work still queued.
func withOvertime(w Window, activeCount int, avg time.Duration, now time.Time) Window {
	if activeCount <= 0 || now.Before(w.Start) {
		return w
	}
	projected := now.Add(time.Duration(activeCount) * avg)
	if projected.After(w.End) {
		w.End = projected
		w.Overtime = true
	}
	return w
}

// DayWindows returns every session for now's day with overtime applied.
// activeCounts is keyed by session index and may be nil.
func DayWindows(d *Doctor, now time.Time, activeCounts map[int]int) ([]Window, error) {
	windows, err := Sessions(d, now)
	if err != nil {
		return nil, err
	}
	avg := d.ConsultDuration()
	for i := range windows {
		windows[i] = withOvertime(windows[i], activeCounts[windows[i].Index], avg, now)
	}
	return windows, nil
}

// ActiveSession returns the first session open at now. A session counts as
// open from preOpen before its start until its effective end.
func ActiveSession(d *Doctor, now time.Time, preOpen time.Duration, activeCounts map[int]int) (Window, bool) {
	windows, err := DayWindows(d, now, activeCounts)
	if err != nil {
		return Window{}, false
	}
	for _, w := range windows {
		if !now.Before(w.Start.Add(-preOpen)) && now.Before(w.End) {
			return w, true
		}
	}
	return Window{}, false
}

// LatestEnd is the effective end of the day's final session.
func LatestEnd(d *Doctor, now time.Time, activeCounts map[int]int) (time.Time, bool) {
	windows, err := DayWindows(d, now, activeCounts)
	if err != nil || len(windows) == 0 {
		return time.Time{}, false
	}
	return windows[len(windows)-1].End, true
}

// IsWithinGraceOfClose is true during the trailing grace window before the
// latest session's effective end.
func IsWithinGraceOfClose(d *Doctor, now time.Time, grace time.Duration, activeCounts map[int]int) bool {
	end, ok := LatestEnd(d, now, activeCounts)
	if !ok {
		return false
	}
	return !now.Before(end.Add(-grace)) && now.Before(end)
}

// BaseToken is the first numeric token of a session: one plus the slot
// capacity of every earlier session that day.
func BaseToken(windows []Window, sessionIndex int, avg time.Duration) int {
	base := 1
	for _, w := range windows {
		if w.Index >= sessionIndex {
			break
		}
		base += w.Capacity(avg)
	}
	return base
}
