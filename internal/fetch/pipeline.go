// Package fetch produces the snapshot for one widget instance within the
// event budget: the remote provider, then the stored snapshot forced offline,
// then a default placeholder. Fetch never fails; failures become an offline
// snapshot, and Offline is false only when the provider answered during the call.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/budget"
	"github.com/sensorsp/widget-engine/internal/cache"
	"github.com/sensorsp/widget-engine/internal/client"
	"github.com/sensorsp/widget-engine/internal/models"
	"github.com/sensorsp/widget-engine/internal/observability"
	"github.com/sensorsp/widget-engine/internal/traffic"
)

// Source says which tier produced a snapshot.
type Source string

const (
	SourceRemote        Source = "remote"
	SourceCacheFallback Source = "cache_fallback"
	SourceDefault       Source = "default"
)

// Result is the outcome of one Fetch.
type Result struct {
	Snapshot models.Snapshot
	Source   Source
	// Failure is the category of the remote failure that led to a fallback.
	Failure client.ErrorCategory
}

// Options tune a single Fetch.
type Options struct {
	// Config is the instance configuration already read for this event.
	// When nil the pipeline reads it from the cache.
	Config *models.WidgetConfig
}

// Config holds pipeline timing.
type Config struct {
	// FetchTimeout caps the remote call.
	FetchTimeout time.Duration
	// RenderReserve is budget kept back for the render step.
	RenderReserve time.Duration
	// CacheWriteReserve is the budget required to write the cache.
	CacheWriteReserve time.Duration
	// Coalesce shares provider calls for the same sensor across instances.
	Coalesce bool
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:      8 * time.Second,
		RenderReserve:     2 * time.Second,
		CacheWriteReserve: time.Second,
		Coalesce:          true,
	}
}

// Pipeline is safe for concurrent use across instances.
type Pipeline struct {
	cache     *cache.Cache
	provider  client.SensorProvider
	alerts    client.AlertCounter
	clock     clockwork.Clock
	cfg       Config
	coalescer *requestCoalescer
	tracker   *traffic.Tracker
	logger    *zap.Logger
}

// NewPipeline creates a Pipeline. alerts and tracker may be nil.
func NewPipeline(c *cache.Cache, provider client.SensorProvider, alerts client.AlertCounter, clock clockwork.Clock, cfg Config, tracker *traffic.Tracker, logger *zap.Logger) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	p := &Pipeline{
		cache:    c,
		provider: provider,
		alerts:   alerts,
		clock:    clock,
		cfg:      cfg,
		tracker:  tracker,
		logger:   logger,
	}
	if cfg.Coalesce {
		p.coalescer = newRequestCoalescer(cfg.FetchTimeout)
	}
	return p
}

// Fetch resolves the snapshot for instanceID. It never returns an error and
// recovers panics raised anywhere below it.
func (p *Pipeline) Fetch(ctx context.Context, instanceID int64, b *budget.Budget, opts Options) (res Result) {
	logger := p.logger.With(zap.Int64("instance_id", instanceID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("fetch pipeline panic", zap.Any("panic", r))
			res = p.fallback(ctx, instanceID, client.ErrorCategoryUnknown, logger)
		}
		observability.FetchResultsTotal.WithLabelValues(string(res.Source)).Inc()
	}()

	cfg := opts.Config
	if cfg == nil {
		if stored, ok := p.cache.GetConfig(ctx, instanceID); ok {
			cfg = &stored
		}
	}

	start := p.clock.Now()
	reading, alertNames, err := p.fetchRemote(ctx, b, cfg, logger)
	if err != nil {
		category := client.CategorizeError(err)
		observability.FetchFailuresTotal.WithLabelValues(string(category)).Inc()
		logger.Warn("remote fetch failed, falling back",
			zap.String("category", string(category)),
			zap.Duration("elapsed", p.clock.Since(start)),
			zap.Error(err))
		p.tracker.Record(traffic.OutcomeDegraded)
		return p.fallback(ctx, instanceID, category, logger)
	}
	p.tracker.Record(traffic.OutcomeRemote)

	snap := SnapshotFromReading(*reading, alertNames, p.clock.Now())
	if b.HasRemaining(p.cfg.CacheWriteReserve) {
		if err := p.cache.PutSnapshot(ctx, instanceID, snap); err != nil {
			logger.Warn("cache write failed", zap.Error(err))
		}
	} else {
		observability.BudgetSkipsTotal.WithLabelValues("cache_write").Inc()
		logger.Warn("skipping cache write, budget nearly exhausted", zap.Duration("remaining", b.Remaining()))
	}
	return Result{Snapshot: snap, Source: SourceRemote}
}

// fetchRemote queries the provider (and the alert counter when the config
// names a user) inside one sub-deadline.
func (p *Pipeline) fetchRemote(ctx context.Context, b *budget.Budget, cfg *models.WidgetConfig, logger *zap.Logger) (*models.Reading, []string, error) {
	window := p.cfg.FetchTimeout
	if w := b.Remaining() - p.cfg.RenderReserve; w < window {
		window = w
	}
	if window <= 0 {
		return nil, nil, fmt.Errorf("no budget left for remote fetch: %w", context.DeadlineExceeded)
	}
	subCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var alertsCh chan []string
	if p.alerts != nil && cfg != nil && cfg.UserID != "" {
		alertsCh = make(chan []string, 1)
		userID := cfg.UserID
		go func() {
			names, err := withCutoff(subCtx, func(ctx context.Context) ([]string, error) {
				return p.alerts.ActiveAlerts(ctx, userID)
			})
			if err != nil {
				logger.Debug("alert count unavailable", zap.Error(err))
				names = nil
			}
			alertsCh <- names
		}()
	}

	reading, err := p.resolveReading(subCtx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if reading == nil {
		return nil, nil, client.ErrNoReading
	}

	var alertNames []string
	if alertsCh != nil {
		select {
		case alertNames = <-alertsCh:
		case <-subCtx.Done():
		}
	}
	return reading, alertNames, nil
}

// resolveReading prefers the configured sensor and falls back to the newest
// reading overall when none is configured or the sensor has no readings.
func (p *Pipeline) resolveReading(ctx context.Context, cfg *models.WidgetConfig, logger *zap.Logger) (*models.Reading, error) {
	if cfg != nil && cfg.SensorID != "" {
		sensorID := cfg.SensorID
		reading, err := p.call(ctx, "sensor:"+sensorID, func(ctx context.Context) (*models.Reading, error) {
			return p.provider.GetLatestReadingForSensor(ctx, sensorID)
		})
		if err != nil || reading != nil {
			return reading, err
		}
		logger.Info("configured sensor has no readings, using latest overall", zap.String("sensor_id", sensorID))
	}
	return p.call(ctx, "overall", p.provider.GetLatestReadingOverall)
}

func (p *Pipeline) call(ctx context.Context, key string, fn func(context.Context) (*models.Reading, error)) (*models.Reading, error) {
	if p.coalescer == nil {
		return withCutoff(ctx, fn)
	}
	reading, shared, err := p.coalescer.Do(ctx, key, fn)
	if shared {
		observability.FetchCoalescedTotal.Inc()
	}
	return reading, err
}

// fallback serves the stale snapshot with Offline forced on, or the default.
func (p *Pipeline) fallback(ctx context.Context, instanceID int64, category client.ErrorCategory, logger *zap.Logger) Result {
	if snap, ok := p.cache.GetAnySnapshot(ctx, instanceID); ok {
		snap.Offline = true
		logger.Info("serving stale snapshot", zap.Duration("age", snap.Age(p.clock.Now())))
		return Result{Snapshot: snap, Source: SourceCacheFallback, Failure: category}
	}
	logger.Info("no cached snapshot, serving default")
	return Result{Snapshot: DefaultSnapshot(p.clock.Now()), Source: SourceDefault, Failure: category}
}
