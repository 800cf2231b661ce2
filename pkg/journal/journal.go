package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunStatus is the lifecycle state of a journaled run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRolledBack RunStatus = "rolled_back"
)

// Run is one install or upgrade attempt.
type Run struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	PackRef     string     `json:"pack_ref"`
	PackVersion string     `json:"pack_version"`
	PackDigest  string     `json:"pack_digest"`
	Status      RunStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Event is one status transition observed during a run.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Detail    *string   `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds journal configuration.
type Config struct {
	Path string
}

// Journal is the SQLite-backed run journal.
type Journal struct {
	db   *sql.DB
	path string
}

// New creates a journal instance for the database at cfg.Path.
func New(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	return &Journal{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (j *Journal) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", j.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping journal database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	j.db = db
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (j *Journal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("journal database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// BeginRun records a new run in the running state.
func (j *Journal) BeginRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, operation, pack_ref, pack_version, pack_digest, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		run.ID,
		run.Operation,
		run.PackRef,
		run.PackVersion,
		run.PackDigest,
		run.Status,
		run.Error,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdatePackInfo fills in the pack identity once it is known; runs
// begin before the pack is resolved and loaded.
func (j *Journal) UpdatePackInfo(ctx context.Context, id, version, digest string) error {
	query := `
		UPDATE runs
		SET pack_version = ?, pack_digest = ?
		WHERE id = ?
	`

	result, err := j.db.ExecContext(ctx, query, version, digest, id)
	if err != nil {
		return fmt.Errorf("failed to update pack info: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// FinishRun marks a run terminal with its final status.
func (j *Journal) FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := j.db.ExecContext(ctx, query, status, errMsg, &now, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// RecordEvent appends one status transition to a run's trail.
func (j *Journal) RecordEvent(ctx context.Context, runID, status string, detail *string) error {
	query := `
		INSERT INTO run_events (run_id, status, detail, created_at)
		VALUES (?, ?, ?, ?)
	`

	if _, err := j.db.ExecContext(ctx, query, runID, status, detail, time.Now()); err != nil {
		return fmt.Errorf("failed to append run event: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, operation, pack_ref, pack_version, pack_digest, status, error, started_at, completed_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := j.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Operation,
		&run.PackRef,
		&run.PackVersion,
		&run.PackDigest,
		&run.Status,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (j *Journal) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, operation, pack_ref, pack_version, pack_digest, status, error, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Operation,
			&run.PackRef,
			&run.PackVersion,
			&run.PackDigest,
			&run.Status,
			&run.Error,
			&run.StartedAt,
			&run.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// EventsForRun lists a run's status trail in insertion order.
func (j *Journal) EventsForRun(ctx context.Context, runID string) ([]*Event, error) {
	query := `
		SELECT id, run_id, status, detail, created_at
		FROM run_events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Status,
			&event.Detail,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection is healthy.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("journal database not initialized")
	}
	return j.db.PingContext(ctx)
}
