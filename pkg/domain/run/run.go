// Package run defines the Run bounded context.
// A Run is one execution attempt of a task by one agent; a task may have
// many runs. Terminal run statuses are monotone: once a run leaves running
// it never goes back.
package run

import (
	"context"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// ---------------------------------------------------------------------------
// Run aggregate
// ---------------------------------------------------------------------------

// Run records one execution attempt.
type Run struct {
	ID           domain.EntityID `json:"id"`
	TaskID       domain.EntityID `json:"task_id"`
	AgentID      string          `json:"agent_id"`
	Status       Status          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	CostTokens   *int64          `json:"cost_tokens,omitempty"`
	LogPath      string          `json:"log_path,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorMeta    *ErrorMeta      `json:"error_meta,omitempty"`
}

// New creates a running run for the given task/agent pair.
func New(taskID domain.EntityID, agentID string, at time.Time) *Run {
	return &Run{
		ID:        domain.NewID(),
		TaskID:    taskID,
		AgentID:   agentID,
		Status:    StatusRunning,
		StartedAt: at,
	}
}

// ErrorMeta is the structured failure payload a worker attaches to a
// failed run. FailureCode drives the failure classifier.
type ErrorMeta struct {
	FailureCode      string   `json:"failureCode,omitempty"`
	FailedCommand    string   `json:"failedCommand,omitempty"`
	PolicyViolations []string `json:"policyViolations,omitempty"`
}

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool { return s != StatusRunning }

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository defines persistence for runs.
type Repository interface {
	// Create inserts a new run.
	Create(ctx context.Context, r *Run) error
	// Get retrieves a run by id.
	Get(ctx context.Context, id domain.EntityID) (*Run, error)
	// Terminalize moves a running run to a terminal status, stamping
	// finishedAt and, for failures, the error payload. The update is
	// conditional on status=running so terminal statuses stay monotone.
	// Returns false when the run was already terminal.
	Terminalize(ctx context.Context, id domain.EntityID, to Status, at time.Time, errMsg string, errMeta *ErrorMeta) (bool, error)
	// CancelActiveByTask terminalizes any running run of the task as
	// cancelled. Used when an expired lease is reclaimed: the presumed-dead
	// worker's run must not linger as active, or the redispatched task
	// would carry two running runs. Returns how many runs were cancelled.
	CancelActiveByTask(ctx context.Context, taskID domain.EntityID, at time.Time) (int, error)
	// SetCost records token cost and log path on a run.
	SetCost(ctx context.Context, id domain.EntityID, costTokens int64, logPath string) error
	// HasActiveRun reports whether the task has a run with status=running.
	HasActiveRun(ctx context.Context, taskID domain.EntityID) (bool, error)
	// CountRunningByAgent returns how many running runs the agent owns.
	CountRunningByAgent(ctx context.Context, agentID string) (int, error)
	// LatestByTask returns the most recently started run for a task.
	LatestByTask(ctx context.Context, taskID domain.EntityID) (*Run, error)
	// ListByTask returns all runs for a task, newest first.
	ListByTask(ctx context.Context, taskID domain.EntityID) ([]*Run, error)
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound Error = "run not found"
)
