// Package task defines the Task bounded context.
// A Task is a unit of autonomous code work with bounded scope and verifiable
// success commands. Tasks are created queued by the planner, claimed by the
// dispatcher, and driven to a terminal state by the run lifecycle, the judge,
// or the recovery sweeper.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// ---------------------------------------------------------------------------
// Task aggregate
// ---------------------------------------------------------------------------

// Task is the aggregate root for the task context.
type Task struct {
	ID             domain.EntityID   `json:"id"`
	Title          string            `json:"title"`
	Goal           string            `json:"goal"`
	Kind           string            `json:"kind,omitempty"`
	Status         Status            `json:"status"`
	BlockReason    string            `json:"block_reason,omitempty"`
	Priority       int               `json:"priority"`
	RiskLevel      string            `json:"risk_level,omitempty"`
	AllowedPaths   []string          `json:"allowed_paths,omitempty"`
	Commands       []string          `json:"commands,omitempty"`
	Dependencies   []domain.EntityID `json:"dependencies,omitempty"`
	TimeboxMinutes int               `json:"timebox_minutes"`
	RetryCount     int               `json:"retry_count"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// New creates a queued task.
func New(title, goal string, at time.Time) *Task {
	return &Task{
		ID:             domain.NewID(),
		Title:          title,
		Goal:           goal,
		Status:         StatusQueued,
		TimeboxMinutes: DefaultTimeboxMinutes,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

// DefaultTimeboxMinutes bounds a task that does not declare its own timebox.
const DefaultTimeboxMinutes = 60

// BlockReasonAwaitingJudge is the block reason the core recognizes: the task
// finished its run and waits for judge approval.
const BlockReasonAwaitingJudge = "awaiting_judge"

// Validate checks the task is well-formed enough to schedule.
func (t *Task) Validate() error {
	if t.Title == "" {
		return ErrMissingTitle
	}
	if t.Goal == "" {
		return ErrMissingGoal
	}
	if t.TimeboxMinutes <= 0 {
		return ErrInvalidTimebox
	}
	for _, p := range t.AllowedPaths {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPathPattern, p)
		}
	}
	return nil
}

// MatchesLanes reports whether this task's allowed paths fall inside the
// given lane globs. A task with no allowed paths, or an empty lane set,
// always matches.
func (t *Task) MatchesLanes(lanes []string) bool {
	if len(lanes) == 0 || len(t.AllowedPaths) == 0 {
		return true
	}
	for _, p := range t.AllowedPaths {
		matched := false
		for _, lane := range lanes {
			if ok, err := doublestar.Match(lane, p); err == nil && ok {
				matched = true
				break
			}
			// A lane may also be a prefix glob covering the pattern root.
			if ok, err := doublestar.Match(lane, patternRoot(p)); err == nil && ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// patternRoot returns the longest literal prefix of a glob pattern,
// e.g. "src/api/**/*.go" -> "src/api".
func patternRoot(pattern string) string {
	root := ""
	seg := ""
	for i := 0; i <= len(pattern); i++ {
		if i == len(pattern) || pattern[i] == '/' {
			for _, c := range seg {
				if c == '*' || c == '?' || c == '[' || c == '{' {
					return root
				}
			}
			if root == "" {
				root = seg
			} else {
				root = root + "/" + seg
			}
			seg = ""
			continue
		}
		seg += string(pattern[i])
	}
	return root
}

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusBlocked   Status = "blocked"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository defines persistence for tasks. Every transition is a single
// conditional write: the update predicates on the status the caller expects
// and reports whether a row actually changed, so concurrent sweeper and
// worker action resolve without locks.
type Repository interface {
	// Create inserts a new task.
	Create(ctx context.Context, t *Task) error
	// Get retrieves a task by id.
	Get(ctx context.Context, id domain.EntityID) (*Task, error)
	// List returns all tasks, optionally filtered by status.
	List(ctx context.Context, status Status) ([]*Task, error)
	// ListQueued returns queued tasks ordered by priority (higher first)
	// then creation time.
	ListQueued(ctx context.Context, limit int) ([]*Task, error)
	// ListBlocked returns up to limit tasks blocked with the given reason.
	ListBlocked(ctx context.Context, reason string, limit int) ([]*Task, error)
	// ListRunningStaleSince returns running tasks whose updatedAt is before
	// the cutoff.
	ListRunningStaleSince(ctx context.Context, cutoff time.Time) ([]*Task, error)
	// StatusesByIDs returns the status of each existing task in ids.
	StatusesByIDs(ctx context.Context, ids []domain.EntityID) (map[domain.EntityID]Status, error)
	// Transition moves a task from one status to another. blockReason is
	// written as given (empty clears it); updatedAt is touched. Returns
	// false when the task was not in the expected from status.
	Transition(ctx context.Context, id domain.EntityID, from, to Status, blockReason string, at time.Time) (bool, error)
	// RequeueForRetry moves a running task back to queued and increments
	// its retry count. Returns false when the task is not running.
	RequeueForRetry(ctx context.Context, id domain.EntityID, at time.Time) (bool, error)
	// CountByStatus returns the number of tasks per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound           Error = "task not found"
	ErrMissingTitle       Error = "task title is required"
	ErrMissingGoal        Error = "task goal is required"
	ErrInvalidTimebox     Error = "task timebox must be positive"
	ErrInvalidPathPattern Error = "invalid allowed-path pattern"
)
