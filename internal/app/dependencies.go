package app

import (
	"fmt"

	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/processor"
	"github.com/treehealth/ndvi-monitor/internal/repository"
	"github.com/treehealth/ndvi-monitor/internal/scheduler"
	"github.com/treehealth/ndvi-monitor/internal/service"
	"github.com/treehealth/ndvi-monitor/internal/websocket"
	"gorm.io/gorm"
)

// Dependencies holds all application-wide dependencies
type Dependencies struct {
	DB            *gorm.DB
	Registry      service.RegistryService
	Samples       service.SampleStore
	Alerts        service.AlertService
	Runs          repository.RunRepo
	EventBus      *processor.EventBus
	WSHub         *websocket.Hub
	AlertDefaults config.AlertsConfig

	// Scheduler is nil when no sampler endpoint is configured
	Scheduler *scheduler.Scheduler
}

// NewDependencies creates a new dependencies container with validation
func NewDependencies(
	db *gorm.DB,
	registry service.RegistryService,
	samples service.SampleStore,
	alerts service.AlertService,
	runs repository.RunRepo,
	eventBus *processor.EventBus,
	wsHub *websocket.Hub,
	alertDefaults config.AlertsConfig,
	sched *scheduler.Scheduler,
) (*Dependencies, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry service is required")
	}
	if samples == nil {
		return nil, fmt.Errorf("sample store is required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert service is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if wsHub == nil {
		return nil, fmt.Errorf("websocket hub is required")
	}

	return &Dependencies{
		DB:            db,
		Registry:      registry,
		Samples:       samples,
		Alerts:        alerts,
		Runs:          runs,
		EventBus:      eventBus,
		WSHub:         wsHub,
		AlertDefaults: alertDefaults,
		Scheduler:     sched,
	}, nil
}

// ProcessingEnabled reports whether manual and scheduled runs are available
func (d *Dependencies) ProcessingEnabled() bool {
	return d.Scheduler != nil
}
