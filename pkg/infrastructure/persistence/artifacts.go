package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	artifactdomain "github.com/Andyyyy64/opentiger/pkg/domain/artifact"
)

// ArtifactRepository is the SQLite-backed implementation of
// artifact.Repository.
type ArtifactRepository struct {
	store *Store
}

// NewArtifactRepository creates an artifact repository on the store.
func NewArtifactRepository(store *Store) *ArtifactRepository {
	return &ArtifactRepository{store: store}
}

type artifactRow struct {
	ID        string         `db:"id"`
	RunID     string         `db:"run_id"`
	Type      string         `db:"type"`
	Ref       string         `db:"ref"`
	URL       string         `db:"url"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r artifactRow) toDomain() (*artifactdomain.Artifact, error) {
	meta, err := unmarshalMetadata(r.Metadata.String)
	if err != nil {
		return nil, err
	}
	return &artifactdomain.Artifact{
		ID:        domain.EntityID(r.ID),
		RunID:     domain.EntityID(r.RunID),
		Type:      artifactdomain.Type(r.Type),
		Ref:       r.Ref,
		URL:       r.URL,
		Metadata:  meta,
		CreatedAt: r.CreatedAt,
	}, nil
}

func (r *ArtifactRepository) Create(ctx context.Context, a *artifactdomain.Artifact) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	return r.store.withRetry(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			INSERT INTO artifacts (id, run_id, type, ref, url, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(a.ID), string(a.RunID), string(a.Type), a.Ref, a.URL, meta, a.CreatedAt)
		return err
	})
}

func (r *ArtifactRepository) ListByRun(ctx context.Context, runID domain.EntityID) ([]*artifactdomain.Artifact, error) {
	var rows []artifactRow
	err := r.store.withRetry(ctx, func() error {
		return r.store.db.SelectContext(ctx, &rows, `
			SELECT * FROM artifacts WHERE run_id = ? ORDER BY created_at`,
			string(runID))
	})
	if err != nil {
		return nil, err
	}
	artifacts := make([]*artifactdomain.Artifact, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// Compile-time verification
var _ artifactdomain.Repository = (*ArtifactRepository)(nil)
