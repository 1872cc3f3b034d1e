package app

import (
	"context"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	artifactdomain "github.com/Andyyyy64/opentiger/pkg/domain/artifact"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	"github.com/Andyyyy64/opentiger/pkg/orchestration"
)

// ---------------------------------------------------------------------------
// Worker application service
// ---------------------------------------------------------------------------

// WorkerService receives the worker's reports: run completion, artifacts,
// and lease extensions for work that outgrows its timebox.
type WorkerService struct {
	runs      rundomain.Repository
	artifacts artifactdomain.Repository
	lifecycle *orchestration.RunLifecycle
	lm        *orchestration.LeaseManager
	bus       domain.EventBus
	clock     domain.Clock
}

// NewWorkerService creates a worker service.
func NewWorkerService(
	runs rundomain.Repository,
	artifacts artifactdomain.Repository,
	lifecycle *orchestration.RunLifecycle,
	lm *orchestration.LeaseManager,
	bus domain.EventBus,
	clock domain.Clock,
) *WorkerService {
	if bus == nil {
		bus = domain.NopBus{}
	}
	return &WorkerService{
		runs:      runs,
		artifacts: artifacts,
		lifecycle: lifecycle,
		lm:        lm,
		bus:       bus,
		clock:     clock,
	}
}

// CompleteRun applies the worker's terminal report for a run.
func (s *WorkerService) CompleteRun(ctx context.Context, runID domain.EntityID, outcome orchestration.Outcome, errMsg string, errMeta *rundomain.ErrorMeta) error {
	return s.lifecycle.Complete(ctx, runID, outcome, errMsg, errMeta)
}

// RecordArtifact persists a run output. The core merely stores what the
// worker produced.
func (s *WorkerService) RecordArtifact(ctx context.Context, runID domain.EntityID, typ artifactdomain.Type, ref, url string, meta domain.Metadata) (*artifactdomain.Artifact, error) {
	if !typ.Valid() {
		return nil, artifactdomain.ErrInvalidType
	}
	if _, err := s.runs.Get(ctx, runID); err != nil {
		return nil, err
	}

	now := s.clock()
	a := artifactdomain.New(runID, typ, now)
	a.Ref = ref
	a.URL = url
	a.Metadata = meta

	if err := s.artifacts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.bus.Publish(domain.NewEvent(domain.EventArtifactRecorded, a.ID, now, map[string]string{
		"run_id": runID.String(),
		"type":   typ.String(),
	}))
	return a, nil
}

// ExtendLease pushes the task's lease out by additional time. A worker
// that wishes to continue past its lease must call this before expiry; a
// sweep that already reclaimed the task makes the eventual commit a no-op.
func (s *WorkerService) ExtendLease(ctx context.Context, taskID domain.EntityID, additional time.Duration) error {
	return s.lm.Extend(ctx, taskID, additional)
}

// RecordCost attaches token cost and log location to a run.
func (s *WorkerService) RecordCost(ctx context.Context, runID domain.EntityID, costTokens int64, logPath string) error {
	return s.runs.SetCost(ctx, runID, costTokens, logPath)
}
