package queue

import (
	"time"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
)

// Delays estimates how late each appointment will be seen, in minutes.
//
// The current appointment is late by now minus its effective time. Walking
// forward, a gap between consecutive effective times wider than avg lets the
// doctor catch up by the excess; narrower gaps carry the delay unchanged.
// When current is nil the head of queue is treated as current.
func Delays(current *appointments.Appointment, queue []appointments.Appointment, avg time.Duration, now time.Time) map[string]int {
	out := make(map[string]int, len(queue)+1)
	if current == nil {
		if len(queue) == 0 {
			return out
		}
		current, queue = &queue[0], queue[1:]
	}

	prev := appointments.EffectiveTime(*current, now)
	acc := 0
	if now.After(prev) {
		acc = clock.MinutesBetween(prev, now)
	}
	out[current.ID] = acc

	avgMinutes := int(avg / time.Minute)
	for _, a := range queue {
		at := appointments.EffectiveTime(a, now)
		if gap := clock.MinutesBetween(prev, at); gap > avgMinutes {
			acc -= gap - avgMinutes
			if acc < 0 {
				acc = 0
			}
		}
		out[a.ID] = acc
		prev = at
	}
	return out
}
