package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sensorsp/widget-engine/internal/models"
)

// SQLiteBackend stores both tables in a SQLite database file.
// synchronous=FULL makes every committed write durable before it returns.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and creates the schema.
// Use ":memory:" for an in-memory database (tests).
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 2000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection. Used for health checks.
func (s *SQLiteBackend) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteBackend) GetSnapshot(ctx context.Context, instanceID int64) (models.Snapshot, bool, error) {
	query := `SELECT payload, captured_at FROM widget_snapshots WHERE instance_id = ?`

	var payload string
	var capturedAt int64
	err := s.db.QueryRowContext(ctx, query, instanceID).Scan(&payload, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("failed to get snapshot for widget %d: %w", instanceID, err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("failed to unmarshal snapshot for widget %d: %w", instanceID, err)
	}
	snap.CapturedAt = time.Unix(0, capturedAt)
	return snap, true, nil
}

func (s *SQLiteBackend) PutSnapshot(ctx context.Context, instanceID int64, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for widget %d: %w", instanceID, err)
	}

	query := `
		INSERT OR REPLACE INTO widget_snapshots (instance_id, payload, captured_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, instanceID, string(payload), snap.CapturedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to store snapshot for widget %d: %w", instanceID, err)
	}
	return nil
}

func (s *SQLiteBackend) GetConfig(ctx context.Context, instanceID int64) (models.WidgetConfig, bool, error) {
	query := `
		SELECT sensor_id, sensor_name, user_id, theme
		FROM widget_configs
		WHERE instance_id = ?
	`

	var cfg models.WidgetConfig
	var sensorName, userID, theme sql.NullString
	err := s.db.QueryRowContext(ctx, query, instanceID).Scan(&cfg.SensorID, &sensorName, &userID, &theme)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WidgetConfig{}, false, nil
	}
	if err != nil {
		return models.WidgetConfig{}, false, fmt.Errorf("failed to get config for widget %d: %w", instanceID, err)
	}
	cfg.SensorName = sensorName.String
	cfg.UserID = userID.String
	cfg.Theme = models.ParseTheme(theme.String)
	return cfg, true, nil
}

func (s *SQLiteBackend) PutConfig(ctx context.Context, instanceID int64, cfg models.WidgetConfig) error {
	query := `
		INSERT OR REPLACE INTO widget_configs
		(instance_id, sensor_id, sensor_name, user_id, theme, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		instanceID,
		cfg.SensorID,
		cfg.SensorName,
		cfg.UserID,
		string(cfg.Theme),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store config for widget %d: %w", instanceID, err)
	}
	return nil
}

// DeleteAll removes both records in a single transaction.
func (s *SQLiteBackend) DeleteAll(ctx context.Context, instanceID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM widget_snapshots WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("failed to delete snapshot for widget %d: %w", instanceID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM widget_configs WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("failed to delete config for widget %d: %w", instanceID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete for widget %d: %w", instanceID, err)
	}
	return nil
}
