package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/sensorsp/widget-engine/internal/models"
)

const keyPrefix = "widget:"

// maxCASAttempts bounds the compare-and-swap retry loop on contended keys.
const maxCASAttempts = 5

// ErrConflict is returned when a record kept changing under a write.
var ErrConflict = errors.New("widget record update conflict")

// instanceRecord holds both tables for one instance in a single item,
// so one Delete removes both.
type instanceRecord struct {
	Snapshot *models.Snapshot     `json:"snapshot,omitempty"`
	Config   *models.WidgetConfig `json:"config,omitempty"`
}

// MemcachedBackend stores instance records in memcached. Items never expire;
// staleness is decided by Cache. Data does not survive a memcached restart.
type MemcachedBackend struct {
	client *memcache.Client
}

// NewMemcachedBackend creates a MemcachedBackend. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedBackend(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedBackend, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedBackend{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedBackend) Name() string { return "memcached" }

func key(instanceID int64) string {
	return keyPrefix + strconv.FormatInt(instanceID, 10)
}

func (c *MemcachedBackend) load(ctx context.Context, instanceID int64) (instanceRecord, *memcache.Item, error) {
	if ctx.Err() != nil {
		return instanceRecord{}, nil, ctx.Err()
	}
	item, err := c.client.Get(key(instanceID))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return instanceRecord{}, nil, nil
		}
		return instanceRecord{}, nil, err
	}
	var rec instanceRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return instanceRecord{}, nil, fmt.Errorf("decode widget %d: %w", instanceID, err)
	}
	return rec, item, nil
}

// update applies mutate to the stored record with compare-and-swap.
func (c *MemcachedBackend) update(ctx context.Context, instanceID int64, mutate func(*instanceRecord)) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, item, err := c.load(ctx, instanceID)
		if err != nil {
			return err
		}
		mutate(&rec)
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode widget %d: %w", instanceID, err)
		}

		if item == nil {
			err = c.client.Add(&memcache.Item{Key: key(instanceID), Value: raw})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			return err
		}

		item.Value = raw
		err = c.client.CompareAndSwap(item)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		return err
	}
	return fmt.Errorf("widget %d: %w", instanceID, ErrConflict)
}

func (c *MemcachedBackend) GetSnapshot(ctx context.Context, instanceID int64) (models.Snapshot, bool, error) {
	rec, _, err := c.load(ctx, instanceID)
	if err != nil || rec.Snapshot == nil {
		return models.Snapshot{}, false, err
	}
	return *rec.Snapshot, true, nil
}

func (c *MemcachedBackend) PutSnapshot(ctx context.Context, instanceID int64, snap models.Snapshot) error {
	return c.update(ctx, instanceID, func(rec *instanceRecord) {
		rec.Snapshot = &snap
	})
}

func (c *MemcachedBackend) GetConfig(ctx context.Context, instanceID int64) (models.WidgetConfig, bool, error) {
	rec, _, err := c.load(ctx, instanceID)
	if err != nil || rec.Config == nil {
		return models.WidgetConfig{}, false, err
	}
	return *rec.Config, true, nil
}

func (c *MemcachedBackend) PutConfig(ctx context.Context, instanceID int64, cfg models.WidgetConfig) error {
	return c.update(ctx, instanceID, func(rec *instanceRecord) {
		rec.Config = &cfg
	})
}

func (c *MemcachedBackend) DeleteAll(ctx context.Context, instanceID int64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := c.client.Delete(key(instanceID))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedBackend) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedBackend) Close() error {
	return c.client.Close()
}
