package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/frontdesk-queue/cmd/mainconfig"
	"github.com/wolfman30/frontdesk-queue/internal/app/bootstrap"
	"github.com/wolfman30/frontdesk-queue/internal/config"
	queueevents "github.com/wolfman30/frontdesk-queue/internal/events"
	statusworker "github.com/wolfman30/frontdesk-queue/internal/worker/status"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// sweepSource namespaces scheduler event IDs in processed_events.
const sweepSource = "eventbridge.status-sweep"

type sweeper interface {
	SweepOnce(ctx context.Context) (statusworker.Result, error)
}

type processedStore interface {
	AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

type outboxDrainer interface {
	DrainOnce(ctx context.Context) (queueevents.DrainResult, error)
}

type handler struct {
	sweeper   sweeper
	processed processedStore
	outbox    outboxDrainer
	logger    *logging.Logger
}

// handle runs one sweep per scheduler event. EventBridge delivers at least
// once, so an event ID already recorded is acknowledged without sweeping.
func (h *handler) handle(ctx context.Context, evt events.CloudWatchEvent) (statusworker.Result, error) {
	if h.processed != nil && evt.ID != "" {
		seen, err := h.processed.AlreadyProcessed(ctx, sweepSource, evt.ID)
		if err != nil {
			return statusworker.Result{}, fmt.Errorf("check processed: %w", err)
		}
		if seen {
			h.logger.Info("duplicate sweep trigger ignored", "event_id", evt.ID)
			return statusworker.Result{}, nil
		}
	}

	res, err := h.sweeper.SweepOnce(ctx)
	if err != nil {
		return res, err
	}

	// The Lambda has no long-running deliverer, so it forwards the events the
	// sweep just wrote.
	if h.outbox != nil {
		if drained, err := h.outbox.DrainOnce(ctx); err != nil {
			h.logger.Warn("outbox drain failed", "error", err)
		} else if drained.Failed > 0 {
			h.logger.Warn("outbox drain incomplete", "delivered", drained.Delivered, "failed", drained.Failed)
		}
	}

	if h.processed != nil && evt.ID != "" {
		if _, err := h.processed.MarkProcessed(ctx, sweepSource, evt.ID); err != nil {
			h.logger.Warn("failed to record sweep trigger", "event_id", evt.ID, "error", err)
		}
	}
	h.logger.Info("scheduled sweep complete",
		"event_id", evt.ID,
		"doctors", res.Doctors,
		"advanced", res.Advanced,
		"status_changes", res.StatusChanges,
		"archived", res.Archived,
		"failed", res.Failed,
	)
	return res, nil
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		panic(err)
	}
	engine, err := bootstrap.Build(ctx, cfg, bootstrap.NewAWSClients(awsCfg), logger)
	if err != nil {
		panic(err)
	}

	h := &handler{sweeper: engine.Sweeper(), logger: logger}
	if engine.Processed != nil {
		h.processed = engine.Processed
	}
	if deliverer := engine.Deliverer(); deliverer != nil {
		h.outbox = deliverer
	}
	lambda.Start(h.handle)
}
