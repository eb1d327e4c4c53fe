package doctors

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository persists doctor configuration and the In/Out flag.
type Repository interface {
	Get(ctx context.Context, id string) (*Doctor, error)
	List(ctx context.Context) ([]Doctor, error)
	Upsert(ctx context.Context, d *Doctor) error
	// UpdateConsultationStatus writes to only if the stored status is still
	// from. It reports false when the precondition no longer holds.
	UpdateConsultationStatus(ctx context.Context, id string, from, to ConsultationStatus) (bool, error)
	AddBreak(ctx context.Context, id string, dayKey string, iv Interval) error
}

// InMemoryRepository keeps doctors in a map. Used for local runs and tests.
type InMemoryRepository struct {
	mu      sync.RWMutex
	doctors map[string]Doctor
}

// NewInMemoryRepository creates an empty repository seeded with docs.
func NewInMemoryRepository(docs ...Doctor) *InMemoryRepository {
	r := &InMemoryRepository{doctors: make(map[string]Doctor)}
	for _, d := range docs {
		r.doctors[d.ID] = cloneDoctor(d)
	}
	return r
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	out := cloneDoctor(d)
	return &out, nil
}

func (r *InMemoryRepository) List(ctx context.Context) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, cloneDoctor(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) Upsert(ctx context.Context, d *Doctor) error {
	if d == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneDoctor(*d)
	if !stored.ConsultationStatus.Valid() {
		stored.ConsultationStatus = StatusOut
	}
	stored.UpdatedAt = time.Now().UTC()
	r.doctors[d.ID] = stored
	return nil
}

func (r *InMemoryRepository) UpdateConsultationStatus(ctx context.Context, id string, from, to ConsultationStatus) (bool, error) {
	if !to.Valid() {
		return false, ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return false, ErrDoctorNotFound
	}
	if d.ConsultationStatus != from {
		return false, nil
	}
	d.ConsultationStatus = to
	d.UpdatedAt = time.Now().UTC()
	r.doctors[id] = d
	return true, nil
}

func (r *InMemoryRepository) AddBreak(ctx context.Context, id string, dayKey string, iv Interval) error {
	if !iv.End.After(iv.Start) {
		return ErrInvalidBreak
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return ErrDoctorNotFound
	}
	if d.BreakPeriods == nil {
		d.BreakPeriods = make(map[string][]Interval)
	}
	d.BreakPeriods[dayKey] = append(d.BreakPeriods[dayKey], iv)
	d.UpdatedAt = time.Now().UTC()
	r.doctors[id] = d
	return nil
}

func cloneDoctor(d Doctor) Doctor {
	out := d
	if d.Availability != nil {
		out.Availability = make([]DayAvailability, len(d.Availability))
		for i, day := range d.Availability {
			out.Availability[i] = DayAvailability{Day: day.Day, Sessions: append([]TimeRange(nil), day.Sessions...)}
		}
	}
	if d.BreakPeriods != nil {
		out.BreakPeriods = make(map[string][]Interval, len(d.BreakPeriods))
		for k, v := range d.BreakPeriods {
			out.BreakPeriods[k] = append([]Interval(nil), v...)
		}
	}
	return out
}
