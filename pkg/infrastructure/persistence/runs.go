package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
)

// RunRepository is the SQLite-backed implementation of run.Repository.
// Terminal statuses are monotone: Terminalize predicates on status=running.
type RunRepository struct {
	store *Store
}

// NewRunRepository creates a run repository on the store.
func NewRunRepository(store *Store) *RunRepository {
	return &RunRepository{store: store}
}

type runRow struct {
	ID           string         `db:"id"`
	TaskID       string         `db:"task_id"`
	AgentID      string         `db:"agent_id"`
	Status       string         `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   *time.Time     `db:"finished_at"`
	CostTokens   sql.NullInt64  `db:"cost_tokens"`
	LogPath      string         `db:"log_path"`
	ErrorMessage string         `db:"error_message"`
	ErrorMeta    sql.NullString `db:"error_meta"`
}

func (r runRow) toDomain() (*rundomain.Run, error) {
	out := &rundomain.Run{
		ID:           domain.EntityID(r.ID),
		TaskID:       domain.EntityID(r.TaskID),
		AgentID:      r.AgentID,
		Status:       rundomain.Status(r.Status),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		LogPath:      r.LogPath,
		ErrorMessage: r.ErrorMessage,
	}
	if r.CostTokens.Valid {
		v := r.CostTokens.Int64
		out.CostTokens = &v
	}
	if r.ErrorMeta.Valid && r.ErrorMeta.String != "" {
		var meta rundomain.ErrorMeta
		if err := json.Unmarshal([]byte(r.ErrorMeta.String), &meta); err != nil {
			return nil, err
		}
		out.ErrorMeta = &meta
	}
	return out, nil
}

func (r *RunRepository) Create(ctx context.Context, run *rundomain.Run) error {
	return r.store.withRetry(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			INSERT INTO runs (id, task_id, agent_id, status, started_at, log_path)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(run.ID), string(run.TaskID), run.AgentID, string(run.Status),
			run.StartedAt, run.LogPath)
		return err
	})
}

func (r *RunRepository) Get(ctx context.Context, id domain.EntityID) (*rundomain.Run, error) {
	var row runRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, string(id))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rundomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *RunRepository) Terminalize(ctx context.Context, id domain.EntityID, to rundomain.Status, at time.Time, errMsg string, errMeta *rundomain.ErrorMeta) (bool, error) {
	var meta interface{}
	if errMeta != nil {
		data, err := json.Marshal(errMeta)
		if err != nil {
			return false, err
		}
		meta = string(data)
	}
	return r.store.execRowsAffected(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, error_message = ?, error_meta = ?
		WHERE id = ? AND status = 'running'`,
		string(to), at, errMsg, meta, string(id))
}

func (r *RunRepository) CancelActiveByTask(ctx context.Context, taskID domain.EntityID, at time.Time) (int, error) {
	var affected int64
	err := r.store.withRetry(ctx, func() error {
		res, err := r.store.db.ExecContext(ctx, `
			UPDATE runs SET status = 'cancelled', finished_at = ?,
				error_message = 'lease expired before completion'
			WHERE task_id = ? AND status = 'running'`,
			at, string(taskID))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

func (r *RunRepository) SetCost(ctx context.Context, id domain.EntityID, costTokens int64, logPath string) error {
	_, err := r.store.execRowsAffected(ctx,
		`UPDATE runs SET cost_tokens = ?, log_path = ? WHERE id = ?`,
		costTokens, logPath, string(id))
	return err
}

func (r *RunRepository) HasActiveRun(ctx context.Context, taskID domain.EntityID) (bool, error) {
	var n int
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM runs WHERE task_id = ? AND status = 'running'`,
			string(taskID))
	})
	return n > 0, err
}

func (r *RunRepository) CountRunningByAgent(ctx context.Context, agentID string) (int, error) {
	var n int
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM runs WHERE agent_id = ? AND status = 'running'`,
			agentID)
	})
	return n, err
}

func (r *RunRepository) LatestByTask(ctx context.Context, taskID domain.EntityID) (*rundomain.Run, error) {
	var row runRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &row, `
			SELECT * FROM runs WHERE task_id = ?
			ORDER BY started_at DESC LIMIT 1`, string(taskID))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rundomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *RunRepository) ListByTask(ctx context.Context, taskID domain.EntityID) ([]*rundomain.Run, error) {
	var rows []runRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.SelectContext(ctx, &rows, `
			SELECT * FROM runs WHERE task_id = ? ORDER BY started_at DESC`,
			string(taskID))
	})
	if err != nil {
		return nil, err
	}
	runs := make([]*rundomain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Compile-time verification
var _ rundomain.Repository = (*RunRepository)(nil)
