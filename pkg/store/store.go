// Package store persists the turn log, the retry queue, the instance lease
// and small runtime settings in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/closedai/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a queue item or lease does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrLeaseHeld is returned when another holder owns a live lease.
	ErrLeaseHeld = errors.New("store: lease held by another instance")
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config holds store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// Store is the SQLite-backed durable store.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Stats summarizes store contents for status reports.
type Stats struct {
	Turns         int
	Conversations int
	Pending       int
	Processing    int
}

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	memory := isMemory(cfg.Path)
	dsn := MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + cfg.Path + "?_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database shared and serializes writers.
	db.SetMaxOpenConns(1)

	if !memory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db, logger: cfg.Logger, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, id);

		CREATE TABLE IF NOT EXISTS queue_items (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			user_message TEXT NOT NULL,
			media TEXT,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_attempt INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status, created_at);

		CREATE TABLE IF NOT EXISTS leases (
			name TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats returns row counts used by status commands.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM turns),
			(SELECT COUNT(DISTINCT conversation_id) FROM turns),
			(SELECT COUNT(*) FROM queue_items WHERE status = 'pending'),
			(SELECT COUNT(*) FROM queue_items WHERE status = 'processing')
	`)
	if err := row.Scan(&st.Turns, &st.Conversations, &st.Pending, &st.Processing); err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

func (s *Store) observe(op string, start time.Time) {
	observability.RecordStoreOperation(op, time.Since(start))
}

func fromUnix(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func isMemory(path string) bool {
	return strings.TrimSpace(path) == MemoryPath
}
