package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/frontdesk-queue/internal/allocation"
	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	httpmiddleware "github.com/wolfman30/frontdesk-queue/internal/http/middleware"
	"github.com/wolfman30/frontdesk-queue/internal/queue"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	DoctorsHandler      *doctors.Handler
	AppointmentsHandler *appointments.Handler
	QueueHandler        *queue.Handler
	WalkInHandler       *allocation.Handler
	MetricsHandler      http.Handler
	SummaryHandler      http.Handler
	CORSAllowedOrigins  []string

	// WalkInLimiter throttles walk-in issuing per client when set.
	WalkInLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.SummaryHandler != nil {
		r.Handle("/ops/summary", cfg.SummaryHandler)
	}

	if cfg.DoctorsHandler != nil {
		cfg.DoctorsHandler.Mount(r)
	}
	if cfg.QueueHandler != nil {
		cfg.QueueHandler.Mount(r)
	}
	if cfg.WalkInHandler != nil {
		r.Group(func(walkIns chi.Router) {
			if cfg.WalkInLimiter != nil {
				walkIns.Use(httpmiddleware.RateLimit(cfg.WalkInLimiter))
			}
			cfg.WalkInHandler.Mount(walkIns)
		})
	}
	if cfg.AppointmentsHandler != nil {
		r.Mount("/appointments", cfg.AppointmentsHandler.Routes())
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
