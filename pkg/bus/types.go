package bus

import (
	"github.com/Andyyyy64/opentiger/pkg/domain"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

// Dispatch is the dispatcher → worker contract: the claimed task and the
// run created for this attempt.
type Dispatch struct {
	Task    *taskdomain.Task `json:"task"`
	RunID   domain.EntityID  `json:"run_id"`
	AgentID string           `json:"agent_id"`
}

// Report is the worker → core contract: the terminal outcome of a run.
type Report struct {
	RunID        domain.EntityID      `json:"run_id"`
	Outcome      string               `json:"outcome"` // success | failed | cancelled
	ErrorMessage string               `json:"error_message,omitempty"`
	ErrorMeta    *rundomain.ErrorMeta `json:"error_meta,omitempty"`
}

// ReportHandler consumes completion reports. The run lifecycle registers
// one; a returned error is not retried: ConsumeReports drops the report.
type ReportHandler func(Report) error
