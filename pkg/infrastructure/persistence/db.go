// Package persistence provides the SQLite-backed store adapters for the
// domain repository interfaces. The store is the coordination substrate:
// every critical transition is a single conditional statement, and the
// UNIQUE constraint on leases.task_id is the atomic-claim primitive.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// Store owns the database handle and hands out repository adapters.
type Store struct {
	db  *sqlx.DB
	log *slog.Logger
}

// Open connects to the store. The DSN is the DATABASE_URL value: a file
// path, a file: URL, or :memory: for hermetic tests. In-memory databases
// are pinned to a single connection so every handle sees the same data.
func Open(databaseURL string, log *slog.Logger) (*Store, error) {
	dsn := databaseURL
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&_busy_timeout=5000"
		} else {
			dsn += "?_busy_timeout=5000"
		}
	}
	dsn += "&_foreign_keys=on"

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", databaseURL, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id              TEXT PRIMARY KEY,
	role            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'idle',
	current_task_id TEXT,
	last_heartbeat  TIMESTAMP,
	metadata        TEXT,
	created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	goal            TEXT NOT NULL,
	kind            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'queued',
	block_reason    TEXT NOT NULL DEFAULT '',
	priority        INTEGER NOT NULL DEFAULT 0,
	risk_level      TEXT NOT NULL DEFAULT '',
	allowed_paths   TEXT NOT NULL DEFAULT '[]',
	commands        TEXT NOT NULL DEFAULT '[]',
	dependencies    TEXT NOT NULL DEFAULT '[]',
	timebox_minutes INTEGER NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL REFERENCES tasks(id),
	agent_id      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP,
	cost_tokens   INTEGER,
	log_path      TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	error_meta    TEXT
);

CREATE TABLE IF NOT EXISTS leases (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL UNIQUE REFERENCES tasks(id),
	agent_id   TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	type       TEXT NOT NULL,
	ref        TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL DEFAULT '',
	metadata   TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_dispatch ON tasks(status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_leases_expiry  ON leases(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_task      ON runs(task_id, status);
CREATE INDEX IF NOT EXISTS idx_runs_agent     ON runs(agent_id, status);
`

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// classifyErr wraps a driver error with its store kind. Unique-constraint
// violations are conflicts; busy/locked are transient; the rest permanent.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch {
		case serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return &domain.StoreError{Kind: domain.StoreConflict, Err: err}
		case serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked:
			return &domain.StoreError{Kind: domain.StoreTransient, Err: err}
		default:
			return &domain.StoreError{Kind: domain.StorePermanent, Err: err}
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.StoreError{Kind: domain.StoreTransient, Err: err}
	}
	return err
}

// IsConflict reports whether err is a unique-constraint conflict.
func IsConflict(err error) bool {
	var serr *domain.StoreError
	return errors.As(err, &serr) && serr.Kind == domain.StoreConflict
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var serr *domain.StoreError
	return errors.As(err, &serr) && serr.Kind == domain.StoreTransient
}

// withRetry runs op, retrying transient store errors with exponential
// backoff up to a small cap. Conflicts and permanent errors surface
// immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	return backoff.Retry(func() error {
		err := classifyErr(op())
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			s.log.Debug("transient store error, retrying", "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
}

// execRowsAffected runs a conditional statement and reports whether any row
// changed. The boolean is how concurrent sweeper and worker action resolve:
// a false return means the caller lost the race and must not retry.
func (s *Store) execRowsAffected(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected > 0, err
}
