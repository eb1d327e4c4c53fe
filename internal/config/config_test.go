package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("WALKIN_ALLOTMENT", "")
	t.Setenv("RESERVATION_LEASE", "")
	t.Setenv("CLINIC_TIMEZONE", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.WalkInAllotment != 5 {
		t.Fatalf("expected default walk-in allotment 5, got %d", cfg.WalkInAllotment)
	}
	if cfg.ReservationLease != 5*time.Second {
		t.Fatalf("expected 5s reservation lease, got %s", cfg.ReservationLease)
	}
	if cfg.CloseGraceWindow != 15*time.Minute {
		t.Fatalf("expected 15m close grace, got %s", cfg.CloseGraceWindow)
	}
	if cfg.AppointmentsTable != "appointments" {
		t.Fatalf("expected default table name, got %s", cfg.AppointmentsTable)
	}
	if cfg.Location().String() != "Asia/Kolkata" {
		t.Fatalf("expected Asia/Kolkata, got %s", cfg.Location())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("WALKIN_ALLOTMENT", "8")
	t.Setenv("RESERVATION_LEASE", "3s")
	t.Setenv("USE_MEMORY_STORE", "true")
	t.Setenv("PERSIST_PERCEIVED_ESTIMATE", "true")
	t.Setenv("STATUS_SWEEP_INTERVAL", "30s")

	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected basic overrides: %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("unexpected database url %s", cfg.DatabaseURL)
	}
	if cfg.WalkInAllotment != 8 {
		t.Fatalf("expected allotment 8, got %d", cfg.WalkInAllotment)
	}
	if cfg.ReservationLease != 3*time.Second {
		t.Fatalf("expected 3s lease, got %s", cfg.ReservationLease)
	}
	if !cfg.UseMemoryStore || !cfg.PersistPerceivedEstimate {
		t.Fatalf("expected boolean overrides to apply")
	}
	if cfg.StatusSweepInterval != 30*time.Second {
		t.Fatalf("expected 30s sweep interval, got %s", cfg.StatusSweepInterval)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WALKIN_ALLOTMENT", "lots")
	t.Setenv("RESERVATION_LEASE", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	t.Setenv("CLINIC_TIMEZONE", "Mars/Olympus")

	cfg := Load()
	if cfg.WalkInAllotment != 5 {
		t.Fatalf("expected fallback allotment, got %d", cfg.WalkInAllotment)
	}
	if cfg.ReservationLease != 5*time.Second {
		t.Fatalf("expected fallback lease, got %s", cfg.ReservationLease)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected fallback redis tls false")
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC for unknown zone, got %s", cfg.Location())
	}
}

func TestLoadListsAndRates(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://desk.example, ,https://lobby.example")
	t.Setenv("WALKIN_RATE_LIMIT", "0.5")
	t.Setenv("ESTIMATE_POLICY", "Queue_Depth")

	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://lobby.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.WalkInRateLimit != 0.5 {
		t.Fatalf("expected 0.5 rps, got %v", cfg.WalkInRateLimit)
	}
	if cfg.WalkInRateBurst != 5 {
		t.Fatalf("expected default burst 5, got %d", cfg.WalkInRateBurst)
	}
	if cfg.EstimatePolicy != "queue_depth" {
		t.Fatalf("expected lower-cased policy, got %s", cfg.EstimatePolicy)
	}
}
