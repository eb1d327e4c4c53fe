package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/frontdesk-queue/internal/allocation"
	"github.com/wolfman30/frontdesk-queue/internal/api/router"
	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/archive"
	"github.com/wolfman30/frontdesk-queue/internal/audit"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
	appconfig "github.com/wolfman30/frontdesk-queue/internal/config"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/internal/events"
	httpmiddleware "github.com/wolfman30/frontdesk-queue/internal/http/middleware"
	"github.com/wolfman30/frontdesk-queue/internal/observability/metrics"
	"github.com/wolfman30/frontdesk-queue/internal/queue"
	statusworker "github.com/wolfman30/frontdesk-queue/internal/worker/status"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// AWSClients are the SDK clients the production wiring needs.
type AWSClients struct {
	DynamoDB *dynamodb.Client
	SQS      *sqs.Client
	S3       *s3.Client
}

// NewAWSClients builds every client from one loaded config.
func NewAWSClients(awsCfg aws.Config) *AWSClients {
	return &AWSClients{
		DynamoDB: dynamodb.NewFromConfig(awsCfg),
		SQS:      sqs.NewFromConfig(awsCfg),
		S3:       s3.NewFromConfig(awsCfg),
	}
}

// Engine is the wired queue engine shared by the API, the status worker and
// the sweep Lambda.
type Engine struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Clock    clock.Clock
	Registry *prometheus.Registry
	Metrics  *metrics.QueueMetrics

	Doctors      doctors.Repository
	Store        appointments.Store
	Reservations allocation.Reservations
	Publisher    events.Publisher
	Audit        *audit.Service
	Archive      *archive.Store
	Outbox       *events.OutboxStore
	Processed    *events.ProcessedStore

	Appointments *appointments.Service
	Queue        *queue.Service
	WalkIns      *allocation.Service

	sqs     *sqs.Client
	closers []func()
}

// Build wires the engine. USE_MEMORY_STORE runs entirely in process and
// ignores clients; otherwise Postgres, Redis and the AWS clients are required.
func Build(ctx context.Context, cfg *appconfig.Config, clients *AWSClients, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e := &Engine{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock.NewClinic(cfg.Location()),
		Registry: reg,
		Metrics:  metrics.NewQueueMetrics(reg),
	}

	var err error
	if cfg.UseMemoryStore {
		err = e.buildMemory()
	} else {
		err = e.buildPersistent(ctx, clients)
	}
	if err != nil {
		e.Close()
		return nil, err
	}
	e.buildServices()
	return e, nil
}

func (e *Engine) buildMemory() error {
	seed, err := loadSeedDoctors(e.Config.SeedDoctorsFile)
	if err != nil {
		return err
	}
	e.Doctors = doctors.NewInMemoryRepository(seed...)
	e.Store = appointments.NewMemoryStore()
	e.Reservations = allocation.NewMemoryReservations(e.Clock)
	e.Publisher = events.NewMemoryPublisher()
	e.Archive = archive.NewStore(nil, "", e.Logger.Logger)
	e.Logger.Info("running with in-memory stores", "seeded_doctors", len(seed))
	return nil
}

func (e *Engine) buildPersistent(ctx context.Context, clients *AWSClients) error {
	if clients == nil {
		return fmt.Errorf("bootstrap: AWS clients are required outside memory mode")
	}
	pool, err := BuildPostgresPool(ctx, e.Config.DatabaseURL)
	if err != nil {
		return err
	}
	e.closers = append(e.closers, pool.Close)

	auditDB, err := BuildAuditDB(e.Config.DatabaseURL)
	if err != nil {
		return err
	}
	e.closers = append(e.closers, func() { _ = auditDB.Close() })

	rdb := BuildRedisClient(ctx, e.Config, e.Logger, true)
	if rdb == nil {
		return fmt.Errorf("bootstrap: redis is required for slot reservations")
	}
	e.closers = append(e.closers, func() { _ = rdb.Close() })

	outbox := events.NewOutboxStore(pool)
	e.Doctors = doctors.NewPostgresRepository(pool)
	e.Store = appointments.NewDynamoStore(clients.DynamoDB, e.Config.AppointmentsTable, e.Logger)
	e.Reservations = allocation.NewRedisReservations(rdb)
	e.Publisher = outbox
	e.Outbox = outbox
	e.Processed = events.NewProcessedStore(pool)
	e.Audit = audit.NewService(auditDB)
	e.Archive = archive.NewStore(clients.S3, e.Config.ArchiveBucket, e.Logger.Logger)
	e.sqs = clients.SQS
	return nil
}

func (e *Engine) buildServices() {
	cfg := e.Config

	e.Appointments = appointments.NewService(e.Store, e.Doctors, e.Clock, e.Logger).
		WithPublisher(e.Publisher).
		WithMetrics(e.Metrics)
	if e.Audit != nil {
		e.Appointments.WithAuditor(e.Audit)
	}

	e.Queue = queue.NewService(e.Store, e.Doctors, e.Clock, e.Logger).
		WithTimeout(cfg.StoreTimeout).
		WithPreOpen(cfg.PreOpenBuffer).
		WithMetrics(e.Metrics)

	allocator := allocation.NewAllocator(e.Reservations, e.Clock).
		WithLease(cfg.ReservationLease).
		WithPreOpen(cfg.PreOpenBuffer).
		WithPolicy(estimatePolicy(cfg.EstimatePolicy)).
		WithMetrics(e.Metrics)
	e.WalkIns = allocation.NewService(allocator, e.Store, e.Doctors, e.Clock, cfg.WalkInAllotment, e.Logger).
		WithPublisher(e.Publisher).
		WithMetrics(e.Metrics).
		WithTimeout(cfg.StoreTimeout).
		WithPerceivedEstimate(cfg.PersistPerceivedEstimate)
	if e.Audit != nil {
		e.WalkIns.WithAuditor(e.Audit)
	}
}

func estimatePolicy(name string) allocation.EstimatePolicy {
	if name == "queue_depth" {
		return allocation.QueueDepthPolicy{}
	}
	return allocation.LiteralPolicy{}
}

// Router builds the HTTP API over the engine.
func (e *Engine) Router(limiter *httpmiddleware.RateLimiter) http.Handler {
	var history appointments.HistoryReader
	if e.Audit != nil {
		history = e.Audit
	}
	return router.New(&router.Config{
		Logger:              e.Logger,
		DoctorsHandler:      doctors.NewHandler(e.Doctors, e.Publisher, e.Clock, e.Logger),
		AppointmentsHandler: appointments.NewHandler(e.Appointments, history, e.Logger),
		QueueHandler:        queue.NewHandler(e.Queue, e.Config.QueueStreamInterval, e.Logger),
		WalkInHandler:       allocation.NewHandler(e.WalkIns, e.Logger),
		MetricsHandler:      promhttp.HandlerFor(e.Registry, promhttp.HandlerOpts{}),
		SummaryHandler:      metrics.SummaryHandler(e.Registry),
		CORSAllowedOrigins:  e.Config.CORSAllowedOrigins,
		WalkInLimiter:       limiter,
	})
}

// Sweeper builds the status sweep over the engine.
func (e *Engine) Sweeper() *statusworker.Sweeper {
	s := statusworker.NewSweeper(e.Doctors, e.Store, e.Appointments, e.Clock, e.Logger).
		WithInterval(e.Config.StatusSweepInterval).
		WithCloseGrace(e.Config.CloseGraceWindow).
		WithPublisher(e.Publisher).
		WithMetrics(e.Metrics)
	if e.Archive.Enabled() {
		s.WithArchiver(e.Archive)
	}
	if e.Audit != nil {
		s.WithAuditor(e.Audit)
	}
	return s
}

// Deliverer forwards the outbox to SQS. It is nil in memory mode or when no
// queue is configured.
func (e *Engine) Deliverer() *events.Deliverer {
	if e.Outbox == nil || e.sqs == nil || e.Config.EventsQueueURL == "" {
		return nil
	}
	return events.NewDeliverer(e.Outbox, events.NewSQSDelivery(e.sqs, e.Config.EventsQueueURL), e.Logger).
		WithInterval(e.Config.OutboxPollInterval)
}

// Close releases connections in reverse order of opening.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func loadSeedDoctors(path string) ([]doctors.Doctor, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read seed doctors: %w", err)
	}
	var docs []doctors.Doctor
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("bootstrap: parse seed doctors: %w", err)
	}
	return docs, nil
}
