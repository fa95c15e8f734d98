package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/metrics"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
	"github.com/treehealth/ndvi-monitor/internal/sampler"
	"github.com/treehealth/ndvi-monitor/internal/service"
	"golang.org/x/sync/errgroup"
)

// Mode selects the processing method
type Mode string

const (
	ModeLatest  Mode = "latest"
	ModeMonthly Mode = "monthly"
)

// ParseMode maps a user-supplied mode; empty means latest
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLatest:
		return ModeLatest, nil
	case ModeMonthly:
		return ModeMonthly, nil
	default:
		return "", errs.Newf(errs.KindValidation, "unknown mode %q, want latest or monthly", s)
	}
}

// DefaultTarget returns the date a mode processes when none is given
func (m Mode) DefaultTarget(now time.Time) time.Time {
	if m == ModeMonthly {
		return models.PreviousMonth(now)
	}
	return now
}

// Options are the alert defaults attached to each run result
type Options struct {
	AlertThreshold  float64
	AlertMonthsBack int
}

// ComparativeProcessor samples NDVI for the registry's valid points and stores
// year-over-year comparisons
type ComparativeProcessor struct {
	registry service.RegistryService
	points   repository.PointRepo
	store    service.SampleStore
	alerts   service.AlertService
	sampler  sampler.Sampler
	recorder *RunRecorder
	opts     Options
}

func NewComparativeProcessor(
	registry service.RegistryService,
	points repository.PointRepo,
	store service.SampleStore,
	alerts service.AlertService,
	smp sampler.Sampler,
	recorder *RunRecorder,
	opts Options,
) *ComparativeProcessor {
	return &ComparativeProcessor{
		registry: registry,
		points:   points,
		store:    store,
		alerts:   alerts,
		sampler:  smp,
		recorder: recorder,
		opts:     opts,
	}
}

// Run dispatches to the method selected by mode
func (p *ComparativeProcessor) Run(ctx context.Context, mode Mode, target time.Time) *models.RunResult {
	if mode == ModeMonthly {
		return p.RunMonthly(ctx, target)
	}
	return p.RunLatest(ctx, target)
}

// RunLatest samples the target month and the same month a year earlier, then
// writes the pair for every point either call returned
func (p *ComparativeProcessor) RunLatest(ctx context.Context, target time.Time) *models.RunResult {
	return p.execute(ctx, models.MethodLatestComparative, target, func(ctx context.Context, run *models.RunResult, candidates []models.TreePoint) error {
		current := models.FirstOfMonth(target)
		prior := models.PriorYearMonth(current)
		points := toSamplerPoints(candidates)

		var currentResults, priorResults []sampler.Result
		var g errgroup.Group
		g.Go(func() error {
			currentResults = p.samplePeriod(ctx, points, current)
			return nil
		})
		g.Go(func() error {
			priorResults = p.samplePeriod(ctx, points, prior)
			return nil
		})
		_ = g.Wait()

		currentByKey := indexResults(currentResults, current)
		priorByKey := indexResults(priorResults, prior)

		idx := newPointIndex(candidates)
		writes := make([]service.SampleWrite, 0, len(candidates))
		for _, key := range unionKeys(currentByKey, priorByKey) {
			point, err := p.resolve(ctx, idx, key)
			if err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("Skipping unresolved sampler result")
				metrics.UnresolvedKeys.Inc()
				continue
			}
			cur := currentByKey[key]
			writes = append(writes, service.SampleWrite{
				PointID:    point.ID,
				Month:      current,
				Current:    cur.Value,
				Prior:      priorByKey[key].Value,
				CloudCover: cur.CloudCover,
				PixelCount: cur.PixelCount,
			})
		}

		return p.persist(ctx, run, writes)
	})
}

// RunMonthly samples a single month and takes the prior-year value from the
// sample already stored for that point
func (p *ComparativeProcessor) RunMonthly(ctx context.Context, target time.Time) *models.RunResult {
	return p.execute(ctx, models.MethodMonthly, target, func(ctx context.Context, run *models.RunResult, candidates []models.TreePoint) error {
		month := models.FirstOfMonth(target)
		prior := models.PriorYearMonth(month)

		results := p.samplePeriod(ctx, toSamplerPoints(candidates), month)
		byKey := indexResults(results, month)

		idx := newPointIndex(candidates)
		writes := make([]service.SampleWrite, 0, len(byKey))
		for _, key := range unionKeys(byKey) {
			point, err := p.resolve(ctx, idx, key)
			if err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("Skipping unresolved sampler result")
				metrics.UnresolvedKeys.Inc()
				continue
			}

			var priorValue *float64
			stored, err := p.store.Find(ctx, point.ID, prior)
			switch {
			case err == nil:
				priorValue = stored.NDVI
			case !errors.Is(err, errs.Lookup):
				logger.Warn().Err(err).Uint("point_id", point.ID).Msg("Could not read prior-year sample")
			}

			r := byKey[key]
			writes = append(writes, service.SampleWrite{
				PointID:    point.ID,
				Month:      month,
				Current:    r.Value,
				Prior:      priorValue,
				CloudCover: r.CloudCover,
				PixelCount: r.PixelCount,
			})
		}

		return p.persist(ctx, run, writes)
	})
}

type runBody func(ctx context.Context, run *models.RunResult, candidates []models.TreePoint) error

// execute wraps a method with the candidate snapshot, panic recovery, alert
// counting, metrics and recording
func (p *ComparativeProcessor) execute(ctx context.Context, method string, target time.Time, body runBody) *models.RunResult {
	run := models.NewRunResult(method, target)
	started := time.Now()

	logger.Info().
		Str("run_id", run.ID.String()).
		Str("method", method).
		Str("target_date", run.TargetDateString).
		Msg("Processing run started")

	err := guard(func() error {
		candidates, err := p.registry.ValidPointsForProcessing(ctx)
		if err != nil {
			return fmt.Errorf("loading points: %w", err)
		}
		run.TotalPoints = len(candidates)
		if len(candidates) == 0 {
			logger.Warn().Str("run_id", run.ID.String()).Msg("No valid points to process")
			return nil
		}
		return body(ctx, run, candidates)
	})

	var alerts []models.Alert
	if err != nil {
		logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("Processing run failed")
		run.Fail(err)
	} else {
		alerts = p.countAlerts(ctx, run)
		run.Finish()
	}

	metrics.RecordRun(method, string(run.Status), time.Since(started), run.ProcessedPoints, run.AlertsCount)
	if p.recorder != nil {
		p.recorder.Record(ctx, run, alerts)
	}
	return run
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn()
}

func (p *ComparativeProcessor) persist(ctx context.Context, run *models.RunResult, writes []service.SampleWrite) error {
	if len(writes) == 0 {
		logger.Warn().Str("run_id", run.ID.String()).Msg("Sampler returned nothing to store")
		return nil
	}
	n, err := p.store.UpsertBatch(ctx, writes)
	if err != nil {
		return err
	}
	run.ProcessedPoints = n
	return nil
}

func (p *ComparativeProcessor) countAlerts(ctx context.Context, run *models.RunResult) []models.Alert {
	if p.alerts == nil {
		return nil
	}
	alerts, err := p.alerts.GetAlerts(ctx, p.opts.AlertThreshold, p.opts.AlertMonthsBack)
	if err != nil {
		logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("Could not count alerts")
		return nil
	}
	run.AlertsCount = len(alerts)
	return alerts
}

// samplePeriod treats any sampler failure as "no results" for that period
func (p *ComparativeProcessor) samplePeriod(ctx context.Context, points []sampler.Point, month time.Time) []sampler.Result {
	results, err := p.sampler.Sample(ctx, points, month)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("period", month.Format(sampler.PeriodLayout)).
			Msg("Sampler unavailable, treating period as missing")
		return nil
	}
	return results
}

func toSamplerPoints(points []models.TreePoint) []sampler.Point {
	out := make([]sampler.Point, 0, len(points))
	for _, p := range points {
		out = append(out, sampler.Point{ID: p.ID, Lon: p.Lon, Lat: p.Lat, ExternalID: p.ExternalID()})
	}
	return out
}

// ResultKey normalizes a result's identity: the external id upper-cased, or
// the surrogate id when there is none
func ResultKey(r sampler.Result) string {
	if ext := strings.ToUpper(strings.TrimSpace(r.ExternalID)); ext != "" {
		return ext
	}
	return strings.TrimSpace(r.PointID)
}

func indexResults(results []sampler.Result, month time.Time) map[string]sampler.Result {
	out := make(map[string]sampler.Result, len(results))
	for _, r := range results {
		key := ResultKey(r)
		if key == "" {
			logger.Warn().Str("period", month.Format(sampler.PeriodLayout)).Msg("Dropping sampler result without identifier")
			continue
		}
		if _, dup := out[key]; dup {
			logger.Warn().Str("key", key).Msg("Duplicate sampler result, keeping the last")
		}
		out[key] = r
	}
	return out
}

func unionKeys(maps ...map[string]sampler.Result) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0)
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// pointIndex answers resolution from the run's snapshot before touching storage
type pointIndex struct {
	byID       map[uint]*models.TreePoint
	byExternal map[string]*models.TreePoint
}

func newPointIndex(points []models.TreePoint) *pointIndex {
	idx := &pointIndex{
		byID:       make(map[uint]*models.TreePoint, len(points)),
		byExternal: make(map[string]*models.TreePoint, len(points)),
	}
	for i := range points {
		p := &points[i]
		idx.byID[p.ID] = p
		if ext := strings.ToUpper(strings.TrimSpace(p.ExternalID())); ext != "" {
			idx.byExternal[ext] = p
		}
	}
	return idx
}

// resolve tries the key as a surrogate id first, then as an external id
func (p *ComparativeProcessor) resolve(ctx context.Context, idx *pointIndex, key string) (*models.TreePoint, error) {
	if id, err := strconv.ParseUint(key, 10, 0); err == nil && id > 0 {
		if point, ok := idx.byID[uint(id)]; ok {
			return point, nil
		}
		if point, err := p.points.FindByID(ctx, uint(id)); err == nil {
			return point, nil
		}
	}
	if point, ok := idx.byExternal[key]; ok {
		return point, nil
	}
	return p.points.FindByExternalID(ctx, key)
}
