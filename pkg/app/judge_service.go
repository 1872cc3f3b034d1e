package app

import (
	"context"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
	"github.com/Andyyyy64/opentiger/pkg/metrics"
)

// ---------------------------------------------------------------------------
// Judge application service
// ---------------------------------------------------------------------------

// JudgeService settles tasks blocked awaiting judgement.
type JudgeService struct {
	tasks   taskdomain.Repository
	bus     domain.EventBus
	clock   domain.Clock
	metrics *metrics.Metrics
}

// NewJudgeService creates a judge service.
func NewJudgeService(tasks taskdomain.Repository, bus domain.EventBus, clock domain.Clock, m *metrics.Metrics) *JudgeService {
	if bus == nil {
		bus = domain.NopBus{}
	}
	return &JudgeService{tasks: tasks, bus: bus, clock: clock, metrics: m}
}

// CompleteTask applies the judge's verdict: a task blocked with
// awaiting_judge moves to done on approval or failed on rejection. The
// transition predicates on the blocked status, so a task the sweeper
// already auto-approved reports ErrNotAwaitingJudge.
func (s *JudgeService) CompleteTask(ctx context.Context, taskID domain.EntityID, approved bool) error {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != taskdomain.StatusBlocked || t.BlockReason != taskdomain.BlockReasonAwaitingJudge {
		return ErrNotAwaitingJudge
	}

	to := taskdomain.StatusDone
	event := domain.EventTaskDone
	if !approved {
		to = taskdomain.StatusFailed
		event = domain.EventTaskFailed
	}

	now := s.clock()
	moved, err := s.tasks.Transition(ctx, taskID, taskdomain.StatusBlocked, to, "", now)
	if err != nil {
		return err
	}
	if !moved {
		return ErrNotAwaitingJudge
	}

	s.metrics.IncTasksCompleted(string(to))
	s.bus.Publish(domain.NewEvent(domain.EventTaskJudged, taskID, now, map[string]string{
		"approved": boolString(approved),
	}))
	s.bus.Publish(domain.NewEvent(event, taskID, now, nil))
	return nil
}

// ListAwaitingJudgement returns tasks waiting for a verdict.
func (s *JudgeService) ListAwaitingJudgement(ctx context.Context, limit int) ([]*taskdomain.Task, error) {
	return s.tasks.ListBlocked(ctx, taskdomain.BlockReasonAwaitingJudge, limit)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type appError string

func (e appError) Error() string { return string(e) }

// ErrNotAwaitingJudge is returned when the judge's verdict arrives for a
// task that is not blocked awaiting judgement.
const ErrNotAwaitingJudge = appError("task is not awaiting judgement")
