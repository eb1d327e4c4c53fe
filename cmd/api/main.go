package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/frontdesk-queue/cmd/mainconfig"
	"github.com/wolfman30/frontdesk-queue/internal/app/bootstrap"
	appconfig "github.com/wolfman30/frontdesk-queue/internal/config"
	httpmiddleware "github.com/wolfman30/frontdesk-queue/internal/http/middleware"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

func main() {
	// Local runs read a .env file; deployed environments set variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting frontdesk-queue API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_store", cfg.UseMemoryStore,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	limiter := setupLimiter(ctx, cfg)

	// In memory mode nothing else runs the sweep, so the API hosts it.
	if cfg.UseMemoryStore {
		go engine.Sweeper().Run(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine.Router(limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func buildEngine(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*bootstrap.Engine, error) {
	if cfg.UseMemoryStore {
		return bootstrap.Build(ctx, cfg, nil, logger)
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return bootstrap.Build(ctx, cfg, bootstrap.NewAWSClients(awsCfg), logger)
}

// setupLimiter returns nil when walk-in rate limiting is disabled.
func setupLimiter(ctx context.Context, cfg *appconfig.Config) *httpmiddleware.RateLimiter {
	if cfg.WalkInRateLimit <= 0 {
		return nil
	}
	limiter := httpmiddleware.NewRateLimiter(cfg.WalkInRateLimit, cfg.WalkInRateBurst)
	go limiter.RunEviction(ctx, time.Minute, 10*time.Minute)
	return limiter
}
