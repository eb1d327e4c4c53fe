package allocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
)

// DefaultLease bounds how long an abandoned reservation blocks its slot.
const DefaultLease = 5 * time.Second

// Lease is a held slot reservation. Token identifies the holder so only the
// holder can release it.
type Lease struct {
	Key   appointments.SlotKey
	Token string
}

// Reservations claims slots for the short window between choosing a slot
// index and committing the appointment.
type Reservations interface {
	// Reserve fails with ErrReservationConflict if the key is already held.
	Reserve(ctx context.Context, key appointments.SlotKey, ttl time.Duration) (Lease, error)
	// Release drops the lease if it is still held by the same token.
	Release(ctx context.Context, lease Lease) error
}

const reservationKeyPrefix = "slotres:"

func reservationKey(key appointments.SlotKey) string {
	return reservationKeyPrefix + key.String()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisReservations keeps reservations as Redis keys with a TTL.
type RedisReservations struct {
	rdb *redis.Client
}

// NewRedisReservations creates a Redis-backed reservation store.
func NewRedisReservations(rdb *redis.Client) *RedisReservations {
	if rdb == nil {
		panic("allocation: redis client required")
	}
	return &RedisReservations{rdb: rdb}
}

func (r *RedisReservations) Reserve(ctx context.Context, key appointments.SlotKey, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = DefaultLease
	}
	lease := Lease{Key: key, Token: uuid.NewString()}
	ok, err := r.rdb.SetNX(ctx, reservationKey(key), lease.Token, ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("allocation: reserve %s: %w", key, err)
	}
	if !ok {
		return Lease{}, ErrReservationConflict
	}
	return lease, nil
}

func (r *RedisReservations) Release(ctx context.Context, lease Lease) error {
	if lease.Token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, r.rdb, []string{reservationKey(lease.Key)}, lease.Token).Err(); err != nil {
		return fmt.Errorf("allocation: release %s: %w", lease.Key, err)
	}
	return nil
}

type memoryLease struct {
	token   string
	expires time.Time
}

// MemoryReservations is an in-process Reservations for local runs and tests.
// Expiry is evaluated against clk so tests can move time.
type MemoryReservations struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[appointments.SlotKey]memoryLease
}

func NewMemoryReservations(clk clock.Clock) *MemoryReservations {
	if clk == nil {
		clk = clock.NewClinic(nil)
	}
	return &MemoryReservations{clock: clk, leases: make(map[appointments.SlotKey]memoryLease)}
}

func (m *MemoryReservations) Reserve(ctx context.Context, key appointments.SlotKey, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = DefaultLease
	}
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[key]; ok && now.Before(held.expires) {
		return Lease{}, ErrReservationConflict
	}
	lease := Lease{Key: key, Token: uuid.NewString()}
	m.leases[key] = memoryLease{token: lease.Token, expires: now.Add(ttl)}
	return lease, nil
}

func (m *MemoryReservations) Release(ctx context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[lease.Key]; ok && held.token == lease.Token {
		delete(m.leases, lease.Key)
	}
	return nil
}
