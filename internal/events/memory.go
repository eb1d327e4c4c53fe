package events

import (
	"context"
	"sync"
)

// Published is one event captured by MemoryPublisher.
type Published struct {
	ClinicID string
	Event    Event
}

// MemoryPublisher keeps published events in memory. It backs
// USE_MEMORY_STORE runs and tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Published
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, clinicID string, evt Event) error {
	if evt == nil {
		return nil
	}
	p.mu.Lock()
	p.events = append(p.events, Published{ClinicID: clinicID, Event: evt})
	p.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.events...)
}

// OfType filters captured events by EventType.
func (p *MemoryPublisher) OfType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Event.EventType() == eventType {
			out = append(out, e.Event)
		}
	}
	return out
}
