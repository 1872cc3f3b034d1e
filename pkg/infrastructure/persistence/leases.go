package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	leasedomain "github.com/Andyyyy64/opentiger/pkg/domain/lease"
)

// LeaseRepository is the SQLite-backed implementation of lease.Repository.
// Insert is the claim: the UNIQUE constraint on task_id arbitrates races,
// and the loser receives ErrAlreadyHeld. There is no read-then-write.
type LeaseRepository struct {
	store *Store
}

// NewLeaseRepository creates a lease repository on the store.
func NewLeaseRepository(store *Store) *LeaseRepository {
	return &LeaseRepository{store: store}
}

type leaseRow struct {
	ID        string    `db:"id"`
	TaskID    string    `db:"task_id"`
	AgentID   string    `db:"agent_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (r leaseRow) toDomain() *leasedomain.Lease {
	return &leasedomain.Lease{
		ID:        domain.EntityID(r.ID),
		TaskID:    domain.EntityID(r.TaskID),
		AgentID:   r.AgentID,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}

func (r *LeaseRepository) Insert(ctx context.Context, l *leasedomain.Lease) error {
	err := r.store.withRetry(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			INSERT INTO leases (id, task_id, agent_id, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			string(l.ID), string(l.TaskID), l.AgentID, l.ExpiresAt, l.CreatedAt)
		return err
	})
	if IsConflict(err) {
		return leasedomain.ErrAlreadyHeld
	}
	return err
}

func (r *LeaseRepository) GetByTask(ctx context.Context, taskID domain.EntityID) (*leasedomain.Lease, error) {
	var row leaseRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &row,
			`SELECT * FROM leases WHERE task_id = ?`, string(taskID))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, leasedomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *LeaseRepository) DeleteByTask(ctx context.Context, taskID domain.EntityID) (*leasedomain.Lease, error) {
	existing, err := r.GetByTask(ctx, taskID)
	if errors.Is(err, leasedomain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// The id predicate makes the delete idempotent under concurrent
	// sweepers: only one caller observes the row it read.
	changed, err := r.store.execRowsAffected(ctx,
		`DELETE FROM leases WHERE id = ?`, string(existing.ID))
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return existing, nil
}

func (r *LeaseRepository) ExtendByTask(ctx context.Context, taskID domain.EntityID, expiresAt time.Time) (bool, error) {
	return r.store.execRowsAffected(ctx,
		`UPDATE leases SET expires_at = ? WHERE task_id = ?`,
		expiresAt, string(taskID))
}

func (r *LeaseRepository) ListActive(ctx context.Context, now time.Time) ([]*leasedomain.Lease, error) {
	return r.selectLeases(ctx,
		`SELECT * FROM leases WHERE expires_at > ? ORDER BY expires_at`, now)
}

func (r *LeaseRepository) ListExpired(ctx context.Context, now time.Time) ([]*leasedomain.Lease, error) {
	return r.selectLeases(ctx,
		`SELECT * FROM leases WHERE expires_at <= ? ORDER BY expires_at`, now)
}

func (r *LeaseRepository) ListAll(ctx context.Context) ([]*leasedomain.Lease, error) {
	return r.selectLeases(ctx, `SELECT * FROM leases ORDER BY created_at`)
}

func (r *LeaseRepository) selectLeases(ctx context.Context, query string, args ...interface{}) ([]*leasedomain.Lease, error) {
	var rows []leaseRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, err
	}
	leases := make([]*leasedomain.Lease, 0, len(rows))
	for _, row := range rows {
		leases = append(leases, row.toDomain())
	}
	return leases, nil
}

func (r *LeaseRepository) CountByAgent(ctx context.Context, agentID string) (int, error) {
	var n int
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM leases WHERE agent_id = ?`, agentID)
	})
	return n, err
}

// Compile-time verification
var _ leasedomain.Repository = (*LeaseRepository)(nil)
