// Package notify delivers terminal-failure notifications to operators.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/Andyyyy64/opentiger/pkg/classify"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

// SlackNotifier posts terminal task failures to a Slack incoming webhook.
// Delivery is best-effort: a failed post is logged, never propagated into
// the run lifecycle.
type SlackNotifier struct {
	webhookURL string
	log        *slog.Logger
}

// NewSlackNotifier creates a notifier for the given webhook.
func NewSlackNotifier(webhookURL string, log *slog.Logger) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, log: log}
}

// NotifyTaskFailed posts the failed task with its failure category and the
// most recent run's failure code.
func (n *SlackNotifier) NotifyTaskFailed(ctx context.Context, t *taskdomain.Task, r *rundomain.Run, verdict classify.Classification) {
	code := classify.ExtractFailureCode(r.ErrorMeta)
	if code == "" {
		code = "(none)"
	}

	msg := &slack.WebhookMessage{
		Text: ":rotating_light: task failed terminally",
		Attachments: []slack.Attachment{{
			Color: "danger",
			Title: t.Title,
			Fields: []slack.AttachmentField{
				{Title: "Task", Value: t.ID.String(), Short: true},
				{Title: "Category", Value: verdict.Category.String(), Short: true},
				{Title: "Reason", Value: verdict.Reason, Short: true},
				{Title: "Failure code", Value: code, Short: true},
				{Title: "Retries", Value: fmt.Sprintf("%d", t.RetryCount), Short: true},
				{Title: "Agent", Value: r.AgentID, Short: true},
			},
		}},
	}

	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		n.log.Error("slack notification failed", "task", t.ID, "error", err)
	}
}
