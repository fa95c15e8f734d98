package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/geo"
	"github.com/treehealth/ndvi-monitor/internal/service"
)

// AlertHandler handles alert HTTP requests
type AlertHandler struct {
	service  service.AlertService
	defaults config.AlertsConfig
}

// NewAlertHandler creates a new alert handler; defaults fill absent query parameters
func NewAlertHandler(service service.AlertService, defaults config.AlertsConfig) *AlertHandler {
	return &AlertHandler{
		service:  service,
		defaults: defaults,
	}
}

func (h *AlertHandler) query(c *gin.Context) (float64, int, error) {
	threshold := h.defaults.Threshold
	if v := c.Query("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, errs.Newf(errs.KindValidation, "threshold must be a number, got %q", v)
		}
		threshold = f
	}

	months := h.defaults.MonthsBack
	if v := c.Query("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errs.Newf(errs.KindValidation, "months must be a non-negative integer, got %q", v)
		}
		months = n
	}
	return threshold, months, nil
}

// GetAlerts handles GET /api/alerts
func (h *AlertHandler) GetAlerts(c *gin.Context) {
	threshold, months, err := h.query(c)
	if err != nil {
		respondError(c, err)
		return
	}

	alerts, err := h.service.GetAlerts(c.Request.Context(), threshold, months)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, geo.AlertCollection(alerts))
}

// GetSeverityCounts handles GET /api/alerts/severity/counts
func (h *AlertHandler) GetSeverityCounts(c *gin.Context) {
	threshold, months, err := h.query(c)
	if err != nil {
		respondError(c, err)
		return
	}

	counts, err := h.service.GetSeverityCounts(c.Request.Context(), threshold, months)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, counts)
}
