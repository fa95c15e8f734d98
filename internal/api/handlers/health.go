package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/treehealth/ndvi-monitor/internal/storage"
	"gorm.io/gorm"
)

// Version is reported by /api/info
var Version = "dev"

// HealthHandler handles health check requests
type HealthHandler struct {
	db             *gorm.DB
	samplerEnabled bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, samplerEnabled bool) *HealthHandler {
	return &HealthHandler{
		db:             db,
		samplerEnabled: samplerEnabled,
	}
}

// GetHealth handles GET /health. A missing sampler is reported but does not degrade health.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	dbErr := storage.HealthCheck(h.db)

	status := "healthy"
	code := http.StatusOK
	if dbErr != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  dbErr == nil,
		"sampler":   h.samplerEnabled,
	})
}

// GetAPIInfo handles GET /api/info
func (h *HealthHandler) GetAPIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":       "Tree NDVI Monitor",
		"version":    Version,
		"status":     "running",
		"processing": h.samplerEnabled,
	})
}
