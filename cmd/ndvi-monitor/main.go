package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/importer"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/scheduler"
	"github.com/treehealth/ndvi-monitor/internal/service"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ndvi-monitor",
		Short:         "Tree vegetation health monitoring from satellite NDVI",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to the YAML config file")

	root.AddCommand(newServeCommand(), newImportCommand(), newProcessCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and processing scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newImportCommand() *cobra.Command {
	var file, encoding string
	cols := service.DefaultImportColumns()

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tree points from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(c.db)

			enc, err := importer.ParseEncoding(encoding)
			if err != nil {
				return err
			}
			table, err := importer.ReadCSVFile(file, importer.WithEncoding(enc))
			if err != nil {
				return err
			}
			imported, err := c.registry.ImportPoints(cmd.Context(), table.Header, table.Rows, cols)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d rows from %s\n", imported, len(table.Rows), file)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV file to import")
	cmd.Flags().StringVar(&cols.Lon, "lon-col", cols.Lon, "longitude column")
	cmd.Flags().StringVar(&cols.Lat, "lat-col", cols.Lat, "latitude column")
	cmd.Flags().StringVar(&cols.Species, "species-col", cols.Species, "species column")
	cmd.Flags().StringVar(&cols.ID, "id-col", cols.ID, "tree id column (optional)")
	cmd.Flags().StringVar(&encoding, "encoding", "auto", "file encoding: auto, utf-8 or shift_jis")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProcessCommand() *cobra.Command {
	var date, mode string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one processing pass and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(c.db)

			if c.processor == nil {
				return errors.New("sampler endpoint not configured")
			}

			run, err := scheduler.New(c.processor, cfg.Scheduler).Trigger(cmd.Context(), date, mode)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return err
			}
			if !run.IsSuccess() {
				return fmt.Errorf("processing run failed: %s", run.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default depends on mode)")
	cmd.Flags().StringVar(&mode, "mode", "", "latest or monthly (default from config)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info().Msg("Starting Tree NDVI Monitor...")

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	c, err := buildComponents(cfg)
	if err != nil {
		return err
	}

	srv, err := initServer(appCtx, cfg, c)
	if err != nil {
		closeDatabase(c.db)
		return err
	}

	startServer(srv, cfg.Server.Port)
	logger.Info().Bool("processing", c.processor != nil).Msg("Tree NDVI Monitor is running")

	waitForShutdown()
	shutdown(srv, appCancel, c)
	return nil
}

func setupHTTPServer(cfg *config.Config, register func(*gin.Engine)) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	register(engine)

	return &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        engine,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

func startServer(srv *http.Server, port int) {
	go func() {
		logger.Info().Int("port", port).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down server...")
}

func shutdown(srv *http.Server, appCancel context.CancelFunc, c *components) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	appCancel()
	c.eventBus.Stop()
	logger.Info().Msg("Background components stopped")

	closeDatabase(c.db)
	logger.Info().Msg("Server exited successfully")
}
