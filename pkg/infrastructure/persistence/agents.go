package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
)

// AgentRepository is the SQLite-backed implementation of agent.Repository.
type AgentRepository struct {
	store *Store
}

// NewAgentRepository creates an agent repository on the store.
func NewAgentRepository(store *Store) *AgentRepository {
	return &AgentRepository{store: store}
}

type agentRow struct {
	ID            string         `db:"id"`
	Role          string         `db:"role"`
	Status        string         `db:"status"`
	CurrentTaskID sql.NullString `db:"current_task_id"`
	LastHeartbeat *time.Time     `db:"last_heartbeat"`
	Metadata      sql.NullString `db:"metadata"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r agentRow) toDomain() (*agentdomain.Agent, error) {
	meta, err := unmarshalMetadata(r.Metadata.String)
	if err != nil {
		return nil, err
	}
	a := &agentdomain.Agent{
		ID:            r.ID,
		Role:          agentdomain.Role(r.Role),
		Status:        agentdomain.Status(r.Status),
		LastHeartbeat: r.LastHeartbeat,
		Metadata:      meta,
		CreatedAt:     r.CreatedAt,
	}
	if r.CurrentTaskID.Valid {
		a.CurrentTaskID = domain.EntityID(r.CurrentTaskID.String)
	}
	return a, nil
}

func (r *AgentRepository) Register(ctx context.Context, a *agentdomain.Agent) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	return r.store.withRetry(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			INSERT INTO agents (id, role, status, metadata, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET role = excluded.role, metadata = excluded.metadata`,
			a.ID, string(a.Role), string(a.Status), meta, a.CreatedAt)
		return err
	})
}

func (r *AgentRepository) Get(ctx context.Context, id string) (*agentdomain.Agent, error) {
	var row agentRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agentdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *AgentRepository) List(ctx context.Context) ([]*agentdomain.Agent, error) {
	return r.selectAgents(ctx, `SELECT * FROM agents ORDER BY created_at`)
}

func (r *AgentRepository) ListIdle(ctx context.Context, role agentdomain.Role) ([]*agentdomain.Agent, error) {
	return r.selectAgents(ctx,
		`SELECT * FROM agents WHERE status = 'idle' AND role = ? ORDER BY last_heartbeat DESC`,
		string(role))
}

func (r *AgentRepository) selectAgents(ctx context.Context, query string, args ...interface{}) ([]*agentdomain.Agent, error) {
	var rows []agentRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, err
	}
	agents := make([]*agentdomain.Agent, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func (r *AgentRepository) MarkBusy(ctx context.Context, id string, taskID domain.EntityID) error {
	changed, err := r.store.execRowsAffected(ctx,
		`UPDATE agents SET status = 'busy', current_task_id = ? WHERE id = ?`,
		string(taskID), id)
	if err != nil {
		return err
	}
	if !changed {
		return agentdomain.ErrNotFound
	}
	return nil
}

func (r *AgentRepository) MarkIdle(ctx context.Context, id string, at time.Time) error {
	_, err := r.store.execRowsAffected(ctx,
		`UPDATE agents SET status = 'idle', current_task_id = NULL, last_heartbeat = ? WHERE id = ?`,
		at, id)
	return err
}

func (r *AgentRepository) Heartbeat(ctx context.Context, id string, at time.Time) error {
	changed, err := r.store.execRowsAffected(ctx,
		`UPDATE agents SET last_heartbeat = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	if !changed {
		return agentdomain.ErrNotFound
	}
	return nil
}

func (r *AgentRepository) Delete(ctx context.Context, id string) error {
	changed, err := r.store.execRowsAffected(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if !changed {
		return agentdomain.ErrNotFound
	}
	return nil
}

// Compile-time verification
var _ agentdomain.Repository = (*AgentRepository)(nil)
