package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/pool"
	"github.com/treehealth/ndvi-monitor/internal/processor"
)

// Runner executes one processing run
type Runner interface {
	Run(ctx context.Context, mode processor.Mode, target time.Time) *models.RunResult
}

// Scheduler triggers processing runs on a fixed cadence and on demand
type Scheduler struct {
	runner     Runner
	workerPool *pool.WorkerPool
	interval   time.Duration
	mode       processor.Mode
	runOnStart bool
	now        func() time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a scheduler; an invalid mode in cfg falls back to latest
func New(runner Runner, cfg config.SchedulerConfig) *Scheduler {
	interval := cfg.Interval()
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	mode, err := processor.ParseMode(cfg.Mode)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid scheduler mode, using latest")
		mode = processor.ModeLatest
	}

	return &Scheduler{
		runner:     runner,
		workerPool: pool.NewWorkerPool(cfg.Workers, 1),
		interval:   interval,
		mode:       mode,
		runOnStart: cfg.RunOnStart,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the recurring schedule
func (s *Scheduler) Start(ctx context.Context) {
	logger.Info().
		Str("interval", s.interval.String()).
		Str("mode", string(s.mode)).
		Bool("run_on_start", s.runOnStart).
		Msg("Starting processing scheduler")

	s.workerPool.Start(ctx)

	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.enqueue(ctx)
	}

	for {
		select {
		case <-ticker.C:
			s.enqueue(ctx)
		case <-s.stopCh:
			logger.Info().Msg("Processing scheduler stopped")
			return
		case <-ctx.Done():
			logger.Info().Msg("Processing scheduler context cancelled")
			return
		}
	}
}

// enqueue hands a scheduled run to the worker pool. When a run is already
// waiting in the queue the tick is skipped.
func (s *Scheduler) enqueue(ctx context.Context) {
	target := s.mode.DefaultTarget(s.now())
	err := s.workerPool.SubmitWithContext(ctx, pool.Job{
		Name: "scheduled-" + string(s.mode),
		Run: func(ctx context.Context) error {
			return s.runner.Run(ctx, s.mode, target).Err()
		},
	})
	if err != nil {
		log := logger.Component("scheduler")
		log.Warn().
			Err(err).
			Int("queued", s.workerPool.GetQueueSize()).
			Msg("Skipping scheduled run")
	}
}

// Trigger runs synchronously. date is YYYY-MM-DD or empty for the mode's
// default; mode is latest, monthly or empty for the scheduler's own mode.
func (s *Scheduler) Trigger(ctx context.Context, date, mode string) (*models.RunResult, error) {
	m := s.mode
	if mode != "" {
		parsed, err := processor.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		m = parsed
	}

	target := m.DefaultTarget(s.now())
	if date != "" {
		parsed, err := models.ParseDate(date, s.now())
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "invalid date")
		}
		target = parsed
	}

	logger.Info().Str("mode", string(m)).Str("target_date", target.Format(models.DateLayout)).Msg("Manual processing run triggered")
	return s.runner.Run(ctx, m, target), nil
}

// Stop halts the schedule and waits for a running job to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.workerPool.Stop()
}
