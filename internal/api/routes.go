package api

import (
	"github.com/gin-gonic/gin"
	"github.com/treehealth/ndvi-monitor/internal/api/handlers"
	"github.com/treehealth/ndvi-monitor/internal/app"
	"github.com/treehealth/ndvi-monitor/internal/health"
)

// RegisterRoutes registers all application routes using dependencies container
func RegisterRoutes(deps *app.Dependencies, router *gin.Engine) {
	health.RegisterHealthRoutes(router, deps.DB, deps.ProcessingEnabled())

	pointHandler := handlers.NewPointHandler(deps.Registry, deps.Samples)
	alertHandler := handlers.NewAlertHandler(deps.Alerts, deps.AlertDefaults)

	var trigger handlers.RunTrigger
	if deps.Scheduler != nil {
		trigger = deps.Scheduler
	}
	processingHandler := handlers.NewProcessingHandler(trigger, deps.Runs)

	apiGroup := router.Group("/api")
	{
		points := apiGroup.Group("/points")
		{
			points.GET("", pointHandler.ListPoints)
			points.POST("", pointHandler.CreatePoint)
			points.POST("/import", pointHandler.ImportPoints)
			points.GET("/features", pointHandler.GetFeatures)
			points.GET("/:id/timeseries", pointHandler.GetTimeseries)
		}

		alerts := apiGroup.Group("/alerts")
		{
			alerts.GET("", alertHandler.GetAlerts)
			alerts.GET("/severity/counts", alertHandler.GetSeverityCounts)
		}

		processing := apiGroup.Group("/processing")
		{
			processing.POST("/run", processingHandler.Run)
			processing.GET("/runs", processingHandler.ListRuns)
		}

		apiGroup.GET("/citizen-reports", pointHandler.ListCitizenReports)
		apiGroup.POST("/citizen-reports", pointHandler.CreateCitizenReport)
	}

	handlers.RegisterWebSocketRoutes(router, deps.WSHub)
}
