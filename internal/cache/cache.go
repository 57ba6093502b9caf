// Package cache is the per-instance widget cache store: the last rendered
// snapshot and the configuration record of every widget instance.
//
// Cache layers TTL semantics and error containment over a Backend. Read
// failures are logged and reported as absent; a missing record is always a
// valid outcome.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/models"
	"github.com/sensorsp/widget-engine/internal/observability"
)

// DefaultTTL matches the host's minimum periodic update granularity.
const DefaultTTL = 15 * time.Minute

// ErrInvalidInstance is returned for instance ids the host never assigns.
var ErrInvalidInstance = errors.New("invalid widget instance id")

// Backend persists the two logical tables, keyed by instance id.
// Implementations must be safe for concurrent use across instances and must
// finish persisting before a write returns. DeleteAll removes both records
// without exposing a state where only one of them is gone.
type Backend interface {
	GetSnapshot(ctx context.Context, instanceID int64) (models.Snapshot, bool, error)
	PutSnapshot(ctx context.Context, instanceID int64, snap models.Snapshot) error
	GetConfig(ctx context.Context, instanceID int64) (models.WidgetConfig, bool, error)
	PutConfig(ctx context.Context, instanceID int64, cfg models.WidgetConfig) error
	DeleteAll(ctx context.Context, instanceID int64) error
	Name() string
}

// Cache is the widget cache store used by the fetch pipeline and dispatcher.
type Cache struct {
	backend Backend
	clock   clockwork.Clock
	ttl     time.Duration
	logger  *zap.Logger
}

// New wraps backend. A zero ttl uses DefaultTTL; a nil clock uses the real clock.
func New(backend Backend, clock clockwork.Clock, ttl time.Duration, logger *zap.Logger) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{backend: backend, clock: clock, ttl: ttl, logger: logger}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// BackendName returns the wrapped backend name.
func (c *Cache) BackendName() string {
	return c.backend.Name()
}

// IsFresh reports whether snap was captured within the TTL of now.
// A capture time after now is never fresh.
func (c *Cache) IsFresh(snap models.Snapshot, now time.Time) bool {
	age := snap.Age(now)
	return age >= 0 && age <= c.ttl
}

// GetFreshSnapshot returns the stored snapshot only while it is within the TTL.
func (c *Cache) GetFreshSnapshot(ctx context.Context, instanceID int64) (models.Snapshot, bool) {
	snap, ok := c.GetAnySnapshot(ctx, instanceID)
	if !ok || !c.IsFresh(snap, c.clock.Now()) {
		return models.Snapshot{}, false
	}
	return snap, true
}

// GetAnySnapshot returns the stored snapshot regardless of age. Backend
// errors are logged and reported as absent.
func (c *Cache) GetAnySnapshot(ctx context.Context, instanceID int64) (models.Snapshot, bool) {
	start := time.Now()
	snap, ok, err := c.backend.GetSnapshot(ctx, instanceID)
	if err != nil {
		c.recordError("get_snapshot", instanceID, err, start)
		return models.Snapshot{}, false
	}
	observability.CacheOperationDuration.WithLabelValues("get_snapshot", "success").Observe(time.Since(start).Seconds())
	return snap, ok
}

// PutSnapshot overwrites the stored snapshot. CapturedAt is stamped with the
// store's clock at write time; any caller-supplied value is discarded.
func (c *Cache) PutSnapshot(ctx context.Context, instanceID int64, snap models.Snapshot) error {
	if instanceID < 0 {
		return ErrInvalidInstance
	}
	snap.CapturedAt = c.clock.Now()
	start := time.Now()
	if err := c.backend.PutSnapshot(ctx, instanceID, snap); err != nil {
		c.recordError("put_snapshot", instanceID, err, start)
		return err
	}
	observability.CacheOperationDuration.WithLabelValues("put_snapshot", "success").Observe(time.Since(start).Seconds())
	return nil
}

// GetConfig returns the instance configuration if one was stored.
func (c *Cache) GetConfig(ctx context.Context, instanceID int64) (models.WidgetConfig, bool) {
	start := time.Now()
	cfg, ok, err := c.backend.GetConfig(ctx, instanceID)
	if err != nil {
		c.recordError("get_config", instanceID, err, start)
		return models.WidgetConfig{}, false
	}
	observability.CacheOperationDuration.WithLabelValues("get_config", "success").Observe(time.Since(start).Seconds())
	return cfg, ok
}

// PutConfig overwrites the instance configuration.
func (c *Cache) PutConfig(ctx context.Context, instanceID int64, cfg models.WidgetConfig) error {
	if instanceID < 0 {
		return ErrInvalidInstance
	}
	start := time.Now()
	if err := c.backend.PutConfig(ctx, instanceID, cfg); err != nil {
		c.recordError("put_config", instanceID, err, start)
		return err
	}
	observability.CacheOperationDuration.WithLabelValues("put_config", "success").Observe(time.Since(start).Seconds())
	return nil
}

// DeleteAll removes snapshot and configuration of the instance. Deleting an
// instance that has nothing stored is a no-op.
func (c *Cache) DeleteAll(ctx context.Context, instanceID int64) error {
	start := time.Now()
	if err := c.backend.DeleteAll(ctx, instanceID); err != nil {
		c.recordError("delete_all", instanceID, err, start)
		return err
	}
	observability.CacheOperationDuration.WithLabelValues("delete_all", "success").Observe(time.Since(start).Seconds())
	return nil
}

func (c *Cache) recordError(op string, instanceID int64, err error, start time.Time) {
	observability.CacheErrorsTotal.WithLabelValues(op, c.backend.Name()).Inc()
	observability.CacheOperationDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
	c.logger.Warn("cache operation failed",
		zap.String("operation", op),
		zap.String("backend", c.backend.Name()),
		zap.Int64("instance_id", instanceID),
		zap.Error(err))
}
