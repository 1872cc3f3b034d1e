package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

// TaskRepository is the SQLite-backed implementation of task.Repository.
// All transitions are conditional single statements; the returned boolean
// tells the caller whether it won or lost the race.
type TaskRepository struct {
	store *Store
}

// NewTaskRepository creates a task repository on the store.
func NewTaskRepository(store *Store) *TaskRepository {
	return &TaskRepository{store: store}
}

type taskRow struct {
	ID             string    `db:"id"`
	Title          string    `db:"title"`
	Goal           string    `db:"goal"`
	Kind           string    `db:"kind"`
	Status         string    `db:"status"`
	BlockReason    string    `db:"block_reason"`
	Priority       int       `db:"priority"`
	RiskLevel      string    `db:"risk_level"`
	AllowedPaths   string    `db:"allowed_paths"`
	Commands       string    `db:"commands"`
	Dependencies   string    `db:"dependencies"`
	TimeboxMinutes int       `db:"timebox_minutes"`
	RetryCount     int       `db:"retry_count"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r taskRow) toDomain() (*taskdomain.Task, error) {
	paths, err := unmarshalStrings(r.AllowedPaths)
	if err != nil {
		return nil, err
	}
	commands, err := unmarshalStrings(r.Commands)
	if err != nil {
		return nil, err
	}
	deps, err := unmarshalIDs(r.Dependencies)
	if err != nil {
		return nil, err
	}
	return &taskdomain.Task{
		ID:             domain.EntityID(r.ID),
		Title:          r.Title,
		Goal:           r.Goal,
		Kind:           r.Kind,
		Status:         taskdomain.Status(r.Status),
		BlockReason:    r.BlockReason,
		Priority:       r.Priority,
		RiskLevel:      r.RiskLevel,
		AllowedPaths:   paths,
		Commands:       commands,
		Dependencies:   deps,
		TimeboxMinutes: r.TimeboxMinutes,
		RetryCount:     r.RetryCount,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func (r *TaskRepository) Create(ctx context.Context, t *taskdomain.Task) error {
	paths, err := marshalJSON(t.AllowedPaths)
	if err != nil {
		return err
	}
	commands, err := marshalJSON(t.Commands)
	if err != nil {
		return err
	}
	deps, err := marshalJSON(t.Dependencies)
	if err != nil {
		return err
	}
	return r.store.withRetry(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			INSERT INTO tasks (id, title, goal, kind, status, block_reason, priority,
				risk_level, allowed_paths, commands, dependencies, timebox_minutes,
				retry_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(t.ID), t.Title, t.Goal, t.Kind, string(t.Status), t.BlockReason,
			t.Priority, t.RiskLevel, orEmptyList(paths), orEmptyList(commands),
			orEmptyList(deps), t.TimeboxMinutes, t.RetryCount, t.CreatedAt, t.UpdatedAt)
		return err
	})
}

func orEmptyList(s string) string {
	if s == "" || s == "null" {
		return "[]"
	}
	return s
}

func (r *TaskRepository) Get(ctx context.Context, id domain.EntityID) (*taskdomain.Task, error) {
	var row taskRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = ?`, string(id))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taskdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *TaskRepository) List(ctx context.Context, status taskdomain.Status) ([]*taskdomain.Task, error) {
	if status == "" {
		return r.selectTasks(ctx, `SELECT * FROM tasks ORDER BY created_at DESC`)
	}
	return r.selectTasks(ctx,
		`SELECT * FROM tasks WHERE status = ? ORDER BY created_at DESC`, string(status))
}

func (r *TaskRepository) ListQueued(ctx context.Context, limit int) ([]*taskdomain.Task, error) {
	return r.selectTasks(ctx, `
		SELECT * FROM tasks WHERE status = 'queued'
		ORDER BY priority DESC, created_at ASC LIMIT ?`, limit)
}

func (r *TaskRepository) ListBlocked(ctx context.Context, reason string, limit int) ([]*taskdomain.Task, error) {
	return r.selectTasks(ctx, `
		SELECT * FROM tasks WHERE status = 'blocked' AND block_reason = ?
		ORDER BY updated_at ASC LIMIT ?`, reason, limit)
}

func (r *TaskRepository) ListRunningStaleSince(ctx context.Context, cutoff time.Time) ([]*taskdomain.Task, error) {
	return r.selectTasks(ctx,
		`SELECT * FROM tasks WHERE status = 'running' AND updated_at < ?`, cutoff)
}

func (r *TaskRepository) selectTasks(ctx context.Context, query string, args ...interface{}) ([]*taskdomain.Task, error) {
	var rows []taskRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, err
	}
	tasks := make([]*taskdomain.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *TaskRepository) StatusesByIDs(ctx context.Context, ids []domain.EntityID) (map[domain.EntityID]taskdomain.Status, error) {
	out := make(map[domain.EntityID]taskdomain.Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	query, args, err := sqlx.In(`SELECT id, status FROM tasks WHERE id IN (?)`, raw)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID     string `db:"id"`
		Status string `db:"status"`
	}
	err = r.store.withRetry(ctx, func() error {
		return r.store.db.SelectContext(ctx, &rows, r.store.db.Rebind(query), args...)
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[domain.EntityID(row.ID)] = taskdomain.Status(row.Status)
	}
	return out, nil
}

func (r *TaskRepository) Transition(ctx context.Context, id domain.EntityID, from, to taskdomain.Status, blockReason string, at time.Time) (bool, error) {
	return r.store.execRowsAffected(ctx, `
		UPDATE tasks SET status = ?, block_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), blockReason, at, string(id), string(from))
}

func (r *TaskRepository) RequeueForRetry(ctx context.Context, id domain.EntityID, at time.Time) (bool, error) {
	return r.store.execRowsAffected(ctx, `
		UPDATE tasks SET status = 'queued', block_reason = '',
			retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		at, string(id))
}

func (r *TaskRepository) CountByStatus(ctx context.Context) (map[taskdomain.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.SelectContext(ctx, &rows,
			`SELECT status, COUNT(*) AS n FROM tasks GROUP BY status`)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[taskdomain.Status]int, len(rows))
	for _, row := range rows {
		out[taskdomain.Status(row.Status)] = row.N
	}
	return out, nil
}

// Compile-time verification
var _ taskdomain.Repository = (*TaskRepository)(nil)
