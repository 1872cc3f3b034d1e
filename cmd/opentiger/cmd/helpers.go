package cmd

import (
	"context"

	"github.com/Andyyyy64/opentiger/pkg/app"
	"github.com/Andyyyy64/opentiger/pkg/bus"
	"github.com/Andyyyy64/opentiger/pkg/orchestration"
)

// reportHandler adapts in-process worker reports onto the run lifecycle.
func reportHandler(ctx context.Context, container *app.Container) bus.ReportHandler {
	return func(r bus.Report) error {
		return container.Worker.CompleteRun(ctx, r.RunID,
			orchestration.Outcome(r.Outcome), r.ErrorMessage, r.ErrorMeta)
	}
}
