package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
)

// RunTrigger starts a processing run and waits for its result
type RunTrigger interface {
	Trigger(ctx context.Context, date, mode string) (*models.RunResult, error)
}

// ProcessingHandler exposes manual runs and run history
type ProcessingHandler struct {
	trigger RunTrigger
	runs    repository.RunRepo
}

// NewProcessingHandler creates a processing handler. A nil trigger means the
// sampler is not configured and manual runs answer 503.
func NewProcessingHandler(trigger RunTrigger, runs repository.RunRepo) *ProcessingHandler {
	return &ProcessingHandler{
		trigger: trigger,
		runs:    runs,
	}
}

// Run handles POST /api/processing/run?date=YYYY-MM-DD&mode=latest|monthly
func (h *ProcessingHandler) Run(c *gin.Context) {
	if h.trigger == nil {
		respondError(c, errs.New(errs.KindConfiguration, "processing disabled: sampler endpoint not configured"))
		return
	}

	run, err := h.trigger.Trigger(c.Request.Context(), c.Query("date"), c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}

	if !run.IsSuccess() {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  run.Error,
			"result": run,
		})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /api/processing/runs
func (h *ProcessingHandler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	runs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}
