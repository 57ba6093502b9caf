// Package engine assembles the widget update engine from configuration.
// Both binaries use it so the daemon and the CLI share one wiring.
package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/cache"
	"github.com/sensorsp/widget-engine/internal/circuitbreaker"
	"github.com/sensorsp/widget-engine/internal/client"
	"github.com/sensorsp/widget-engine/internal/config"
	"github.com/sensorsp/widget-engine/internal/fetch"
	"github.com/sensorsp/widget-engine/internal/host"
	"github.com/sensorsp/widget-engine/internal/interval"
	"github.com/sensorsp/widget-engine/internal/observability"
	"github.com/sensorsp/widget-engine/internal/traffic"
	"github.com/sensorsp/widget-engine/internal/widget"
)

const sensorAPIComponent = "sensor_api"

// Engine holds the wired components.
type Engine struct {
	Dispatcher *widget.Dispatcher
	Cache      *cache.Cache
	Policy     *interval.Policy
	// Power is set only when the power source is host reported.
	Power   *interval.HostState
	Tracker *traffic.Tracker
	Breaker *circuitbreaker.CircuitBreaker
	Clock   clockwork.Clock

	backend cache.Backend
}

// New wires an Engine. A nil clock uses the real clock.
func New(cfg *config.Config, h host.Host, clock clockwork.Clock, logger *zap.Logger) (*Engine, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	logger = observability.WithStore(logger, backend.Name())
	logger.Info("store opened")
	store := cache.New(backend, clock, cfg.CacheTTL, logger.Named("cache"))

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        sensorAPIComponent,
		Clock:            clock,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	observability.CircuitBreakerState.WithLabelValues(sensorAPIComponent).Set(0)

	httpClient, err := client.NewHTTPClient(cfg.SensorAPIHTTPMode, cfg.MaxIdleConns)
	if err != nil {
		_ = closeBackend(backend)
		return nil, err
	}
	opts := client.Options{
		Timeout:        cfg.SensorAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		HTTPClient:     httpClient,
		Breaker:        breaker,
		Token:          cfg.SensorAPIToken,
	}
	provider, err := client.NewSensorClient(cfg.SensorAPIURL, opts)
	if err != nil {
		_ = closeBackend(backend)
		return nil, fmt.Errorf("sensor client: %w", err)
	}

	var alerts client.AlertCounter
	if cfg.AlertAPIURL != "" {
		alertOpts := opts
		alertOpts.Breaker = nil
		alertOpts.RetryAttempts = 1
		ac, err := client.NewAlertClient(cfg.AlertAPIURL, alertOpts)
		if err != nil {
			_ = closeBackend(backend)
			return nil, fmt.Errorf("alert client: %w", err)
		}
		alerts = ac
	}

	power, source := powerSource(cfg)
	policy := interval.NewPolicy(source, cfg.IntervalNormal, cfg.PowerQueryTimeout, logger.Named("interval"))

	tracker := traffic.NewTracker(clock, cfg.HealthWindow)
	pipeline := fetch.NewPipeline(store, provider, alerts, clock, fetch.Config{
		FetchTimeout:      cfg.FetchTimeout,
		RenderReserve:     cfg.RenderReserve,
		CacheWriteReserve: cfg.CacheWriteReserve,
		Coalesce:          cfg.Coalesce,
	}, tracker, logger.Named("fetch"))

	dispatcher := widget.NewDispatcher(store, pipeline, policy, h, clock, widget.Config{
		EventBudget:      cfg.EventBudget,
		RenderReserve:    cfg.RenderReserve,
		BatchConcurrency: cfg.BatchConcurrency,
	}, logger.Named("widget"))

	return &Engine{
		Dispatcher: dispatcher,
		Cache:      store,
		Policy:     policy,
		Power:      power,
		Tracker:    tracker,
		Breaker:    breaker,
		Clock:      clock,
		backend:    backend,
	}, nil
}

// OpenBackend opens the configured store backend.
func OpenBackend(cfg *config.Config) (cache.Backend, error) {
	switch cfg.StoreBackend {
	case "memory":
		return cache.NewMemoryBackend(), nil
	case "memcached":
		mc, err := cache.NewMemcachedBackend(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached store: %w", err)
		}
		return mc, nil
	case "sqlite", "":
		db, err := cache.NewSQLiteBackend(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func powerSource(cfg *config.Config) (*interval.HostState, interval.PowerSource) {
	switch cfg.PowerSource {
	case "file":
		return nil, interval.FileSource{
			SaverPath:    cfg.PowerSaverPath,
			CapacityPath: cfg.BatteryCapacityPath,
			StatusPath:   cfg.BatteryStatusPath,
		}
	case "none":
		return nil, nil
	default:
		state := &interval.HostState{}
		return state, state
	}
}

// StorePing returns the backend's reachability probe, or nil if it has none.
func (e *Engine) StorePing() func() error {
	if p, ok := e.backend.(interface{ Ping() error }); ok {
		return p.Ping
	}
	return nil
}

// Close releases the store backend.
func (e *Engine) Close() error {
	return closeBackend(e.backend)
}

func closeBackend(b cache.Backend) error {
	c, ok := b.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
