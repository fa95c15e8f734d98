package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/treehealth/ndvi-monitor/internal/api"
	"github.com/treehealth/ndvi-monitor/internal/app"
	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/notifier"
	"github.com/treehealth/ndvi-monitor/internal/processor"
	"github.com/treehealth/ndvi-monitor/internal/repository"
	"github.com/treehealth/ndvi-monitor/internal/sampler"
	"github.com/treehealth/ndvi-monitor/internal/scheduler"
	"github.com/treehealth/ndvi-monitor/internal/service"
	"github.com/treehealth/ndvi-monitor/internal/storage"
	"github.com/treehealth/ndvi-monitor/internal/websocket"
	"gorm.io/gorm"
)

// components are shared by every subcommand
type components struct {
	db        *gorm.DB
	registry  service.RegistryService
	store     service.SampleStore
	alerts    service.AlertService
	runs      repository.RunRepo
	eventBus  *processor.EventBus
	processor *processor.ComparativeProcessor
	scheduler *scheduler.Scheduler
}

// buildComponents wires storage, services and, when a sampler endpoint is
// configured, the comparative processor
func buildComponents(cfg *config.Config) (*components, error) {
	db, err := initDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	policy, filters, err := service.FiltersFromConfig(cfg.Filters)
	if err != nil {
		closeDatabase(db)
		return nil, fmt.Errorf("invalid filters: %w", err)
	}

	points := repository.NewGormPointRepo(db)
	samples := repository.NewGormSampleRepo(db)
	c := &components{
		db:       db,
		registry: service.NewRegistryService(points, policy, filters...),
		store:    service.NewSampleStore(samples),
		alerts:   service.NewAlertService(samples),
		runs:     repository.NewGormRunRepo(db),
		eventBus: processor.NewEventBus(),
	}
	logger.Info().
		Int("trust_rules", len(cfg.Filters.TrustRules)).
		Int("spatial_filters", len(filters)).
		Msg("Point registry initialized")

	smp, err := initSampler(cfg.Sampler)
	if err != nil {
		closeDatabase(db)
		return nil, err
	}
	if smp != nil {
		c.processor = processor.NewComparativeProcessor(c.registry, points, c.store, c.alerts, smp,
			processor.NewRunRecorder(c.runs, c.eventBus),
			processor.Options{AlertThreshold: cfg.Alerts.Threshold, AlertMonthsBack: cfg.Alerts.MonthsBack})
	}

	return c, nil
}

// initSampler returns nil when no endpoint is configured; processing is then disabled
func initSampler(cfg config.SamplerConfig) (sampler.Sampler, error) {
	if cfg.Endpoint == "" {
		logger.Warn().Msg("Sampler endpoint not configured - processing disabled")
		return nil, nil
	}
	client, err := sampler.NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("endpoint", cfg.Endpoint).Dur("timeout", cfg.Timeout()).Msg("NDVI sampler client initialized")
	return client, nil
}

// initDatabase opens the database and brings the schema up to date when asked
func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate || cfg.Driver == "sqlite" {
		if err := runMigrations(db, cfg); err != nil {
			closeDatabase(db)
			return nil, err
		}
	}

	return db, nil
}

// runMigrations applies the SQL migrations for postgres and AutoMigrate for sqlite
func runMigrations(db *gorm.DB, cfg config.DatabaseConfig) error {
	if cfg.Driver != "postgres" {
		if err := storage.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
		logger.Info().Msg("SQLite schema up to date")
		return nil
	}

	m, err := migrate.New(cfg.MigrationsPath, cfg.MigrationDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info().Msg("No new migrations to apply")
	case err != nil:
		return fmt.Errorf("failed to run migrations: %w", err)
	default:
		logger.Info().Msg("Database migrations applied successfully")
	}
	return nil
}

// initServer starts the event bus and its observers, the scheduler, and builds the HTTP server
func initServer(ctx context.Context, cfg *config.Config, c *components) (*http.Server, error) {
	c.eventBus.Start(ctx)
	logger.Info().Msg("Run event bus started")

	wsHub := websocket.NewHub(cfg.Server.AllowedOrigins...)
	c.eventBus.Subscribe(wsHub)
	go wsHub.Run(ctx)
	logger.Info().Msg("WebSocket hub started")

	initEmailDispatcher(cfg.Email, c.eventBus)

	if c.processor != nil {
		c.scheduler = scheduler.New(c.processor, cfg.Scheduler)
		if cfg.Scheduler.Enabled {
			c.scheduler.Start(ctx)
		} else {
			logger.Info().Msg("Scheduled processing disabled; manual trigger only")
		}
	}

	deps, err := app.NewDependencies(c.db, c.registry, c.store, c.alerts, c.runs, c.eventBus, wsHub, cfg.Alerts, c.scheduler)
	if err != nil {
		return nil, fmt.Errorf("failed to create dependencies container: %w", err)
	}
	logger.Info().Msg("Dependencies container initialized")

	return setupHTTPServer(cfg, func(engine *gin.Engine) {
		api.RegisterRoutes(deps, engine)
	}), nil
}

// initEmailDispatcher subscribes the email notifier if configured
func initEmailDispatcher(cfg config.EmailConfig, eventBus *processor.EventBus) {
	if !cfg.Enabled {
		logger.Info().Msg("Email notifications disabled in configuration")
		return
	}
	if cfg.SMTPHost == "" || len(cfg.To) == 0 {
		logger.Warn().Msg("Email configuration incomplete - notifications disabled")
		return
	}

	eventBus.Subscribe(notifier.NewEmailDispatcher(cfg))
	logger.Info().
		Str("smtp_host", cfg.SMTPHost).
		Strs("to", cfg.To).
		Msg("Email dispatcher enabled")
}

// closeDatabase closes the database connection
func closeDatabase(db *gorm.DB) {
	storage.Close(db)
	logger.Info().Msg("Database connection closed")
}
