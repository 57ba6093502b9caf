package cache

import (
	"context"
	"sync"

	"github.com/sensorsp/widget-engine/internal/models"
)

// MemoryBackend keeps both tables in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu        sync.RWMutex
	snapshots map[int64]models.Snapshot
	configs   map[int64]models.WidgetConfig
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		snapshots: make(map[int64]models.Snapshot),
		configs:   make(map[int64]models.WidgetConfig),
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) GetSnapshot(ctx context.Context, instanceID int64) (models.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[instanceID]
	if !ok {
		return models.Snapshot{}, false, nil
	}
	return copySnapshot(snap), true, nil
}

func (m *MemoryBackend) PutSnapshot(ctx context.Context, instanceID int64, snap models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[instanceID] = copySnapshot(snap)
	return nil
}

func (m *MemoryBackend) GetConfig(ctx context.Context, instanceID int64) (models.WidgetConfig, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WidgetConfig{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[instanceID]
	return cfg, ok, nil
}

func (m *MemoryBackend) PutConfig(ctx context.Context, instanceID int64, cfg models.WidgetConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[instanceID] = cfg
	return nil
}

func (m *MemoryBackend) DeleteAll(ctx context.Context, instanceID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, instanceID)
	delete(m.configs, instanceID)
	return nil
}

func copySnapshot(s models.Snapshot) models.Snapshot {
	if s.AlertNames != nil {
		s.AlertNames = append([]string(nil), s.AlertNames...)
	}
	return s
}
