package queue

import (
	"slices"
	"time"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
)

// Viewer is the patient a queue view is computed for.
//
// Once the viewer reaches the buffer their view freezes: FrozenAhead holds
// the appointments that were ahead at that moment, and Pending tokens not in
// it can no longer be ordered ahead of the viewer.
type Viewer struct {
	AppointmentID string   `json:"appointment_id"`
	Frozen        bool     `json:"frozen,omitempty"`
	FrozenAhead   []string `json:"frozen_ahead,omitempty"`
}

// Input is one doctor/day/session snapshot to order.
type Input struct {
	Appointments []appointments.Appointment
	DoctorID     string
	ClinicID     string
	Date         string
	SessionIndex int
	DoctorIn     bool
	AverageTime  time.Duration
	Now          time.Time
	Viewer       *Viewer
}

// State is the partitioned queue for a session.
type State struct {
	DoctorID          string                     `json:"doctor_id"`
	ClinicID          string                     `json:"clinic_id"`
	Date              string                     `json:"date"`
	SessionIndex      int                        `json:"session_index"`
	Current           *appointments.Appointment  `json:"current_consultation"`
	Buffer            []appointments.Appointment `json:"buffer_queue"`
	Arrived           []appointments.Appointment `json:"arrived_queue"`
	Skipped           []appointments.Appointment `json:"skipped_queue"`
	ConsultationCount int                        `json:"consultation_count"`
	Delays            map[string]int             `json:"delays"`

	// ViewerPosition is the viewer's index in the combined order (0 is the
	// current consultation) or -1 when there is no viewer in this session.
	ViewerPosition int      `json:"viewer_position"`
	FrozenAhead    []string `json:"frozen_ahead,omitempty"`

	Degraded   bool      `json:"degraded,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// Empty is the state served when the snapshot could not be read.
func Empty(doctorID, date string, sessionIndex int, now time.Time) State {
	return State{
		DoctorID:       doctorID,
		Date:           date,
		SessionIndex:   sessionIndex,
		Buffer:         []appointments.Appointment{},
		Arrived:        []appointments.Appointment{},
		Skipped:        []appointments.Appointment{},
		Delays:         map[string]int{},
		ViewerPosition: -1,
		ComputedAt:     now,
	}
}

// Ordered returns the combined order: current, buffer, then arrived.
func (s State) Ordered() []appointments.Appointment {
	var out []appointments.Appointment
	if s.Current != nil {
		out = append(out, *s.Current)
	}
	out = append(out, s.Buffer...)
	return append(out, s.Arrived...)
}

// PatientsAhead is how many appointments precede the viewer.
func (s State) PatientsAhead() int {
	if s.ViewerPosition < 0 {
		return 0
	}
	return s.ViewerPosition
}

// effective returns a with the status NextStatus says it has at now, so a
// lagging sweep does not leave lapsed appointments in the live order.
func effective(a appointments.Appointment, now time.Time) appointments.Appointment {
	if next, changed := appointments.NextStatus(a, now); changed {
		a.Status = next
	}
	return a
}

// ComputeQueues partitions the session's live appointments. It is a pure
// function of its input.
func ComputeQueues(in Input) State {
	state := Empty(in.DoctorID, in.Date, in.SessionIndex, in.Now)
	state.ClinicID = in.ClinicID

	var live []appointments.Appointment
	for _, a := range in.Appointments {
		if a.DoctorID != in.DoctorID || a.Date != in.Date || a.SessionIndex != in.SessionIndex {
			continue
		}
		a = effective(a, in.Now)
		if a.Status == appointments.StatusCompleted {
			state.ConsultationCount++
		}
		if a.Status.Live() {
			live = append(live, a)
		}
	}

	var viewer *appointments.Appointment
	if in.Viewer != nil {
		for i := range live {
			if live[i].ID == in.Viewer.AppointmentID {
				viewer = &live[i]
				break
			}
		}
	}

	// Skipped patients join the order only where they would land ahead of
	// the viewer if they walked back in now.
	var ordered, skipped []appointments.Appointment
	for _, a := range live {
		if a.Status != appointments.StatusSkipped {
			ordered = append(ordered, a)
			continue
		}
		if viewer != nil && (a.ID == viewer.ID || AdmitsRejoin(a, *viewer, in.Now)) {
			ordered = append(ordered, a)
			continue
		}
		skipped = append(skipped, a)
	}
	// An admitted rejoin is ordered as the Confirmed patient it would become.
	SortRejoined(ordered, in.Now)
	Sort(skipped, in.Now)

	if viewer != nil && in.Viewer.Frozen {
		ordered = holdFrozen(ordered, in.Viewer)
	}

	if len(ordered) > 0 {
		current := ordered[0]
		state.Current = &current
		bufferSize := 1
		if in.DoctorIn {
			bufferSize = 2
		}
		rest := ordered[1:]
		n := min(bufferSize, len(rest))
		state.Buffer = append(state.Buffer, rest[:n]...)
		state.Arrived = append(state.Arrived, rest[n:]...)
		state.Delays = Delays(state.Current, rest, in.AverageTime, in.Now)
	}
	state.Skipped = append(state.Skipped, skipped...)

	if viewer != nil {
		state.ViewerPosition = slices.IndexFunc(ordered, func(a appointments.Appointment) bool {
			return a.ID == viewer.ID
		})
		switch {
		case in.Viewer.Frozen:
			state.FrozenAhead = append([]string{}, in.Viewer.FrozenAhead...)
		case state.ViewerPosition >= 1 && state.ViewerPosition <= len(state.Buffer):
			state.FrozenAhead = make([]string, 0, state.ViewerPosition)
			for _, a := range ordered[:state.ViewerPosition] {
				state.FrozenAhead = append(state.FrozenAhead, a.ID)
			}
		}
	}
	return state
}

// holdFrozen moves Pending appointments that were not ahead of the viewer
// when the view froze to just behind the viewer, keeping their relative order.
func holdFrozen(ordered []appointments.Appointment, v *Viewer) []appointments.Appointment {
	pos := slices.IndexFunc(ordered, func(a appointments.Appointment) bool {
		return a.ID == v.AppointmentID
	})
	if pos <= 0 {
		return ordered
	}
	ahead := make(map[string]struct{}, len(v.FrozenAhead))
	for _, id := range v.FrozenAhead {
		ahead[id] = struct{}{}
	}

	out := make([]appointments.Appointment, 0, len(ordered))
	var demoted []appointments.Appointment
	for _, a := range ordered[:pos] {
		if _, ok := ahead[a.ID]; !ok && a.Status == appointments.StatusPending && !a.InConsultation() {
			demoted = append(demoted, a)
			continue
		}
		out = append(out, a)
	}
	out = append(out, ordered[pos])
	out = append(out, demoted...)
	return append(out, ordered[pos+1:]...)
}

// ActiveCounts counts appointments still to be seen per session index, using
// the status each has at now.
func ActiveCounts(list []appointments.Appointment, now time.Time) map[int]int {
	counts := make(map[int]int)
	for _, a := range list {
		if effective(a, now).Status.Live() {
			counts[a.SessionIndex]++
		}
	}
	return counts
}
