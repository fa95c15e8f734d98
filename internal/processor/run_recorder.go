package processor

import (
	"context"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
)

// RunRecorder persists run results and publishes them on the event bus
type RunRecorder struct {
	runRepo  repository.RunRepo
	eventBus *EventBus
}

// NewRunRecorder creates a recorder; a nil bus disables publishing
func NewRunRecorder(runRepo repository.RunRepo, eventBus *EventBus) *RunRecorder {
	return &RunRecorder{
		runRepo:  runRepo,
		eventBus: eventBus,
	}
}

// Record never fails the run; storage errors are logged
func (rr *RunRecorder) Record(ctx context.Context, run *models.RunResult, alerts []models.Alert) {
	ctx = context.WithoutCancel(ctx)

	if rr.runRepo != nil {
		if err := rr.runRepo.Create(ctx, run); err != nil {
			logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("Failed to persist run result")
		}
	}

	if rr.eventBus != nil {
		rr.eventBus.Publish(&RunEvent{
			Run:       run,
			Alerts:    alerts,
			Timestamp: time.Now(),
		})
	}

	logger.Info().
		Str("run_id", run.ID.String()).
		Str("method", run.Method).
		Str("status", string(run.Status)).
		Str("target_date", run.TargetDateString).
		Int("processed_points", run.ProcessedPoints).
		Int("total_points", run.TotalPoints).
		Int("alerts_count", run.AlertsCount).
		Msg("Processing run recorded")
}
