package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore holds output contexts in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string

	// BusyTimeout bounds how long a write waits for a lock.
	BusyTimeout time.Duration
}

// ContextVariable is one stored output variable.
type ContextVariable struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	RunID     string    `json:"run_id"`
	WrittenAt time.Time `json:"written_at"`
}

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return &SQLiteStore{
		path: fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", cfg.Path, cfg.BusyTimeout.Milliseconds()),
	}, nil
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// ReplaceSnapshot swaps the stored variables for snapshot in a single
// transaction.
func (s *SQLiteStore) ReplaceSnapshot(ctx context.Context, runID string, snapshot map[string]any, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_variables`); err != nil {
		return fmt.Errorf("failed to clear context variables: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO context_variables (name, value_json, run_id, written_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	writtenAt := at.UTC().Format(time.RFC3339Nano)
	for name, value := range snapshot {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode variable %s: %w", name, err)
		}
		if _, err := stmt.ExecContext(ctx, name, string(data), runID, writtenAt); err != nil {
			return fmt.Errorf("failed to insert variable %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit context variables: %w", err)
	}
	return nil
}

// Snapshot returns the stored variables ordered by name.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]ContextVariable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value_json, run_id, written_at
		FROM context_variables
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query context variables: %w", err)
	}
	defer rows.Close()

	var out []ContextVariable
	for rows.Next() {
		var (
			v         ContextVariable
			raw       string
			writtenAt string
		)
		if err := rows.Scan(&v.Name, &raw, &v.RunID, &writtenAt); err != nil {
			return nil, fmt.Errorf("failed to scan context variable: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v.Value); err != nil {
			return nil, fmt.Errorf("failed to decode variable %s: %w", v.Name, err)
		}
		if v.WrittenAt, err = time.Parse(time.RFC3339Nano, writtenAt); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp of %s: %w", v.Name, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SQLiteWriter writes snapshots to a SQLite database file, replacing the
// previous snapshot.
type SQLiteWriter struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteWriter creates a writer for the database at path.
func NewSQLiteWriter(path string, logger zerolog.Logger) *SQLiteWriter {
	return &SQLiteWriter{path: path, logger: logger, now: time.Now}
}

// WriteSnapshot implements engine.SnapshotWriter.
func (w *SQLiteWriter) WriteSnapshot(ctx context.Context, runID string, snapshot map[string]any) error {
	store, err := NewSQLiteStore(Config{Path: w.path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := store.ReplaceSnapshot(ctx, runID, snapshot, w.now()); err != nil {
		return err
	}

	w.logger.Debug().
		Str("run_id", runID).
		Str("format", string(FormatSQLite)).
		Int("variables", len(snapshot)).
		Msg("Output context written")
	return nil
}
