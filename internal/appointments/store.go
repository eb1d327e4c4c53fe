package appointments

import (
	"context"
	"sort"
	"sync"
)

// Store is the appointment document store.
type Store interface {
	// ListForDoctorDay returns every appointment (any status) for a doctor's day.
	ListForDoctorDay(ctx context.Context, doctorID, date string) ([]Appointment, error)
	Get(ctx context.Context, id string) (*Appointment, error)
	// Create inserts a new appointment and claims its slot. It fails with
	// ErrSlotTaken when a non-cancelled appointment already holds the slot.
	Create(ctx context.Context, a *Appointment) error
	// CompareAndSwap persists next's mutable fields only if the stored status
	// still equals expected, failing with ErrConflict otherwise. Moving to
	// Cancelled releases the slot claim in the same write.
	CompareAndSwap(ctx context.Context, next *Appointment, expected Status) error
}

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Appointment
	claims map[SlotKey]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Appointment),
		claims: make(map[SlotKey]string),
	}
}

func (s *MemoryStore) ListForDoctorDay(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Appointment
	for _, a := range s.byID {
		if a.DoctorID == doctorID && a.Date == date {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionIndex != out[j].SessionIndex {
			return out[i].SessionIndex < out[j].SessionIndex
		}
		return out[i].SlotIndex < out[j].SlotIndex
	})
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) Create(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[a.ID]; exists {
		return ErrConflict
	}
	key := a.Slot()
	if _, taken := s.claims[key]; taken {
		return ErrSlotTaken
	}
	s.claims[key] = a.ID
	s.byID[a.ID] = *a
	return nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, next *Appointment, expected Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[next.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected {
		return ErrConflict
	}
	cur.Status = next.Status
	cur.RequeuedFor = next.RequeuedFor
	cur.ConsultationStartedAt = next.ConsultationStartedAt
	cur.DoctorDelayMinutes = next.DoctorDelayMinutes
	cur.UpdatedAt = next.UpdatedAt
	s.byID[cur.ID] = cur
	if next.Status == StatusCancelled {
		key := cur.Slot()
		if s.claims[key] == cur.ID {
			delete(s.claims, key)
		}
	}
	return nil
}
