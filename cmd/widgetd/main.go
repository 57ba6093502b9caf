package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/config"
	"github.com/sensorsp/widget-engine/internal/engine"
	"github.com/sensorsp/widget-engine/internal/host"
	httphandler "github.com/sensorsp/widget-engine/internal/http"
	"github.com/sensorsp/widget-engine/internal/observability"
)

func main() {
	logger, err := observability.NewLogger("widgetd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var widgetHost host.Host
	if cfg.HostCallbackURL != "" {
		widgetHost = host.NewHTTPHost(cfg.HostCallbackURL, nil, cfg.HostCallbackTimeout)
		logger.Info("host callbacks enabled", zap.String("url", cfg.HostCallbackURL))
	} else {
		widgetHost = host.NewWriterHost(os.Stdout)
		logger.Warn("no host callback configured; writing host calls to stdout")
	}

	eng, err := engine.New(cfg, widgetHost, nil, logger)
	if err != nil {
		logger.Fatal("engine", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{
		Window:           cfg.HealthWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
		Breaker:          eng.Breaker,
		StorePing:        eng.StorePing(),
	}
	handler := httphandler.NewHandler(eng.Dispatcher, eng.Cache, eng.Power, eng.Policy, eng.Tracker, healthConfig, eng.Clock, logger)

	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Tracker:        eng.Tracker,
		InFlight:       inFlight,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.String("store", cfg.StoreBackend),
			zap.Duration("event_budget", cfg.EventBudget))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight events", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight events not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if err := eng.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}
