package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfman30/frontdesk-queue/cmd/mainconfig"
	"github.com/wolfman30/frontdesk-queue/internal/app/bootstrap"
	"github.com/wolfman30/frontdesk-queue/internal/config"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMemoryStore {
		logger.Error("status worker requires persistent stores; unset USE_MEMORY_STORE")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("status worker requires DATABASE_URL")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	engine, err := bootstrap.Build(ctx, cfg, bootstrap.NewAWSClients(awsCfg), logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Sweeper().Run(ctx)
	}()

	if deliverer := engine.Deliverer(); deliverer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliverer.Start(ctx)
		}()
	} else {
		logger.Warn("EVENTS_QUEUE_URL not set; outbox events will accumulate undelivered")
	}

	logger.Info("status worker started",
		"sweep_interval", cfg.StatusSweepInterval.String(),
		"close_grace", cfg.CloseGraceWindow.String(),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down status worker...")
	cancel()
	wg.Wait()
	logger.Info("status worker stopped")
}
