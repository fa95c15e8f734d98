package health

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/treehealth/ndvi-monitor/internal/api/handlers"
	"gorm.io/gorm"
)

// RegisterHealthRoutes registers health, info and Prometheus metrics endpoints
func RegisterHealthRoutes(router *gin.Engine, db *gorm.DB, samplerEnabled bool) {
	healthHandler := handlers.NewHealthHandler(db, samplerEnabled)

	router.GET("/health", healthHandler.GetHealth)
	router.GET("/api/info", healthHandler.GetAPIInfo)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
