package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
)

// SampleWrite is one reading pair to persist for a point and month
type SampleWrite struct {
	PointID    uint
	Month      time.Time
	Current    *float64
	Prior      *float64
	CloudCover *float64
	PixelCount *int
}

func (w SampleWrite) sample() *models.NDVISample {
	s := models.NewSample(w.PointID, w.Month, w.Current, w.Prior)
	s.CloudCover = models.SanitizeValue(w.CloudCover)
	s.PixelCount = w.PixelCount
	return s
}

// SampleStore persists monthly samples with one row per point and month
type SampleStore interface {
	UpsertSample(ctx context.Context, pointID uint, month time.Time, current, prior *float64) (*models.NDVISample, error)
	// UpsertBatch is all-or-nothing and returns the number of rows written
	UpsertBatch(ctx context.Context, writes []SampleWrite) (int, error)
	GetTimeseries(ctx context.Context, pointID uint, monthsBack int) ([]models.NDVISample, error)
	Find(ctx context.Context, pointID uint, month time.Time) (*models.NDVISample, error)
	LatestPerPoint(ctx context.Context, pointIDs []uint) (map[uint]models.NDVISample, error)
	Count(ctx context.Context) (int64, error)
}

type sampleStore struct {
	repo  repository.SampleRepo
	locks *keyLocker
	now   func() time.Time
}

// NewSampleStore creates a sample store over the repository
func NewSampleStore(repo repository.SampleRepo) SampleStore {
	return &sampleStore{
		repo:  repo,
		locks: newKeyLocker(),
		now:   time.Now,
	}
}

func (s *sampleStore) UpsertSample(ctx context.Context, pointID uint, month time.Time, current, prior *float64) (*models.NDVISample, error) {
	sample := SampleWrite{PointID: pointID, Month: month, Current: current, Prior: prior}.sample()

	unlock := s.locks.lock([]models.SampleKey{sample.Key()})
	defer unlock()

	if err := s.repo.UpsertBatch(ctx, []*models.NDVISample{sample}); err != nil {
		return nil, err
	}
	return sample, nil
}

func (s *sampleStore) UpsertBatch(ctx context.Context, writes []SampleWrite) (int, error) {
	if len(writes) == 0 {
		return 0, nil
	}

	samples := make([]*models.NDVISample, 0, len(writes))
	keys := make([]models.SampleKey, 0, len(writes))
	for _, w := range writes {
		sample := w.sample()
		samples = append(samples, sample)
		keys = append(keys, sample.Key())
	}

	unlock := s.locks.lock(keys)
	defer unlock()

	if err := s.repo.UpsertBatch(ctx, samples); err != nil {
		logger.Error().Err(err).Int("rows", len(samples)).Msg("Sample batch rolled back")
		if errs.KindOf(err) == "" {
			err = errs.Wrap(errs.KindPersistence, err, "upsert batch")
		}
		return 0, err
	}
	return countDistinct(keys), nil
}

func countDistinct(keys []models.SampleKey) int {
	seen := make(map[models.SampleKey]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	return len(seen)
}

func (s *sampleStore) GetTimeseries(ctx context.Context, pointID uint, monthsBack int) ([]models.NDVISample, error) {
	if monthsBack < 0 {
		return nil, errs.Newf(errs.KindValidation, "months must be >= 0, got %d", monthsBack)
	}
	from, to := models.MonthWindow(s.now(), monthsBack)
	return s.repo.Timeseries(ctx, pointID, from, to)
}

func (s *sampleStore) Find(ctx context.Context, pointID uint, month time.Time) (*models.NDVISample, error) {
	return s.repo.Find(ctx, pointID, month)
}

func (s *sampleStore) LatestPerPoint(ctx context.Context, pointIDs []uint) (map[uint]models.NDVISample, error) {
	return s.repo.LatestPerPoint(ctx, pointIDs)
}

func (s *sampleStore) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

// keyLocker serializes writers per (point, month). Keys are taken in sorted
// order so overlapping batches cannot deadlock.
type keyLocker struct {
	mu    sync.Mutex
	locks map[models.SampleKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[models.SampleKey]*refMutex)}
}

func (l *keyLocker) lock(keys []models.SampleKey) func() {
	unique := make([]models.SampleKey, 0, len(keys))
	seen := make(map[models.SampleKey]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			unique = append(unique, k)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Less(unique[j]) })

	held := make([]*refMutex, 0, len(unique))
	for _, k := range unique {
		l.mu.Lock()
		m, ok := l.locks[k]
		if !ok {
			m = &refMutex{}
			l.locks[k] = m
		}
		m.refs++
		l.mu.Unlock()

		m.Lock()
		held = append(held, m)
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, unique[i])
			}
		}
	}
}
