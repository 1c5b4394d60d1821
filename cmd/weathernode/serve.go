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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-node/internal/config"
	httphandler "github.com/kjstillabower/weather-node/internal/http"
	"github.com/kjstillabower/weather-node/internal/lifecycle"
	"github.com/kjstillabower/weather-node/internal/node"
	"github.com/kjstillabower/weather-node/internal/observability"
	"github.com/kjstillabower/weather-node/internal/scheduler"
	"github.com/kjstillabower/weather-node/internal/state"
)

const inFlightCheckInterval = 50 * time.Millisecond

func serve() error {
	logger, err := observability.NewLogger("weathernode")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return err
	}
	lifecycle.SetPhase(lifecycle.PhaseStarting)

	store := state.New(logger)
	devices := newDeviceBuilder(cfg, store, store, logger)
	controller := node.NewController(cfg, store, devices.Build, logger)

	healthConfig := &httphandler.HealthConfig{StartTime: time.Now()}
	if cfg.CacheBackend == "memcached" {
		healthConfig.CachePing = devices.Ping
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(controller, store, healthConfig, logger)
	router := httphandler.NewRouter(handler, limiter, cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		if errors.Is(err, node.ErrNotConfigured) {
			logger.Warn("controller not configured; waiting for parameters", zap.Error(err))
		} else {
			logger.Error("controller start", zap.Error(err))
		}
	}

	sched, err := scheduler.New(controller, cfg.ShortPollInterval, cfg.LongPollInterval, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	lifecycle.SetPhase(lifecycle.PhaseRunning)

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := controller.Stop(context.Background()); err != nil {
		logger.Error("controller stop", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if err := devices.Close(); err != nil {
		logger.Error("memcached close", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
