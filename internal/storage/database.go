package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database driver and applies pool settings
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		logger.Info().
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Str("user", cfg.User).
			Str("database", cfg.Database).
			Str("sslmode", cfg.SSLMode).
			Msg("Connecting to PostgreSQL database...")
		dialector = postgres.Open(cfg.ConnectionString())
	case "sqlite", "":
		logger.Info().Str("path", cfg.SQLitePath).Msg("Opening SQLite database...")
		dialector = sqlite.Open(sqliteDSN(cfg.SQLitePath))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Driver).Msg("Failed to open database")
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "postgres" {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections())
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections())
		sqlDB.SetConnMaxLifetime(cfg.ConnectionLifetime())
	} else {
		// a single writer avoids SQLITE_BUSY under concurrent batch upserts
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		logger.Error().Err(err).Str("driver", cfg.Driver).Msg("Failed to ping database")
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}

	logger.Info().
		Str("driver", cfg.Driver).
		Str("database", cfg.Database).
		Msg("Successfully connected to database")

	return db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}

// AutoMigrate creates or updates the schema from the models.
// Used for sqlite; postgres goes through the SQL migrations.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.TreePoint{}, &models.NDVISample{}, &models.RunResult{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// HealthCheck checks if the database connection is healthy
func HealthCheck(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database instance is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		return
	}

	sqlDB.Close()
}
