package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SampleRepo interface for monthly NDVI sample storage
type SampleRepo interface {
	// UpsertBatch writes every sample or none; (point, month) collisions update in place
	UpsertBatch(ctx context.Context, samples []*models.NDVISample) error
	Find(ctx context.Context, pointID uint, month time.Time) (*models.NDVISample, error)
	// Timeseries returns samples with from <= period <= to, ascending
	Timeseries(ctx context.Context, pointID uint, from, to time.Time) ([]models.NDVISample, error)
	// Declines returns samples with diff < threshold in the window, joined with
	// their point and ordered by diff ascending
	Declines(ctx context.Context, threshold float64, from, to time.Time) ([]models.NDVISample, error)
	LatestPerPoint(ctx context.Context, pointIDs []uint) (map[uint]models.NDVISample, error)
	Count(ctx context.Context) (int64, error)
}

var upsertColumns = []string{"ndvi", "ndvi_prev_year", "ndvi_diff", "cloud_cover", "pixel_count", "updated_at"}

// dedupeLastWins keeps the last sample per key, preserving first-seen order
func dedupeLastWins(samples []*models.NDVISample) []*models.NDVISample {
	index := make(map[models.SampleKey]int, len(samples))
	out := make([]*models.NDVISample, 0, len(samples))
	for _, s := range samples {
		s.PeriodMonth = models.FirstOfMonth(s.PeriodMonth)
		k := s.Key()
		if i, ok := index[k]; ok {
			out[i] = s
			continue
		}
		index[k] = len(out)
		out = append(out, s)
	}
	return out
}

// InMemorySampleRepo keeps samples keyed by (point, month).
// Points are resolved through the point repo to emulate the foreign key.
type InMemorySampleRepo struct {
	points  PointRepo
	samples map[models.SampleKey]*models.NDVISample
	nextID  uint
	mu      sync.RWMutex
}

func NewInMemorySampleRepo(points PointRepo) *InMemorySampleRepo {
	return &InMemorySampleRepo{
		points:  points,
		samples: make(map[models.SampleKey]*models.NDVISample),
		nextID:  1,
	}
}

func (r *InMemorySampleRepo) UpsertBatch(ctx context.Context, samples []*models.NDVISample) error {
	samples = dedupeLastWins(samples)

	for _, s := range samples {
		if _, err := r.points.FindByID(ctx, s.TreePointID); err != nil {
			return errs.Wrap(errs.KindPersistence, err, "foreign key violation")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, s := range samples {
		k := s.Key()
		if existing, ok := r.samples[k]; ok {
			existing.NDVI = s.NDVI
			existing.NDVIPrevYear = s.NDVIPrevYear
			existing.NDVIDiff = s.NDVIDiff
			existing.CloudCover = s.CloudCover
			existing.PixelCount = s.PixelCount
			existing.UpdatedAt = now
			s.ID = existing.ID
			continue
		}
		stored := *s
		stored.ID = r.nextID
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.TreePoint = nil
		r.nextID++
		r.samples[k] = &stored
		s.ID = stored.ID
	}
	return nil
}

func (r *InMemorySampleRepo) Find(ctx context.Context, pointID uint, month time.Time) (*models.NDVISample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.samples[models.SampleKey{PointID: pointID, Month: models.FirstOfMonth(month)}]
	if !ok {
		return nil, errs.Newf(errs.KindLookup, "no sample for point %d in %s", pointID, month.Format("2006-01"))
	}
	found := *s
	return &found, nil
}

func (r *InMemorySampleRepo) Timeseries(ctx context.Context, pointID uint, from, to time.Time) ([]models.NDVISample, error) {
	r.mu.RLock()
	out := make([]models.NDVISample, 0)
	for k, s := range r.samples {
		if k.PointID == pointID && inWindow(k.Month, from, to) {
			out = append(out, *s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PeriodMonth.Before(out[j].PeriodMonth) })
	return out, nil
}

func (r *InMemorySampleRepo) Declines(ctx context.Context, threshold float64, from, to time.Time) ([]models.NDVISample, error) {
	r.mu.RLock()
	out := make([]models.NDVISample, 0)
	for k, s := range r.samples {
		if s.NDVIDiff != nil && *s.NDVIDiff < threshold && inWindow(k.Month, from, to) {
			out = append(out, *s)
		}
	}
	r.mu.RUnlock()

	for i := range out {
		point, err := r.points.FindByID(ctx, out[i].TreePointID)
		if err != nil {
			return nil, err
		}
		out[i].TreePoint = point
	}

	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].NDVIDiff != *out[j].NDVIDiff {
			return *out[i].NDVIDiff < *out[j].NDVIDiff
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *InMemorySampleRepo) LatestPerPoint(ctx context.Context, pointIDs []uint) (map[uint]models.NDVISample, error) {
	wanted := make(map[uint]bool, len(pointIDs))
	for _, id := range pointIDs {
		wanted[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uint]models.NDVISample)
	for k, s := range r.samples {
		if !wanted[k.PointID] {
			continue
		}
		if cur, ok := out[k.PointID]; !ok || cur.PeriodMonth.Before(k.Month) {
			out[k.PointID] = *s
		}
	}
	return out, nil
}

func (r *InMemorySampleRepo) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.samples)), nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// GormSampleRepo stores samples through gorm. The unique index on
// (tree_point_id, period_month) backs the upsert.
type GormSampleRepo struct {
	db *gorm.DB
}

func NewGormSampleRepo(db *gorm.DB) *GormSampleRepo {
	return &GormSampleRepo{db: db}
}

func (r *GormSampleRepo) UpsertBatch(ctx context.Context, samples []*models.NDVISample) error {
	samples = dedupeLastWins(samples)
	if len(samples) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tree_point_id"}, {Name: "period_month"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).CreateInBatches(samples, 200).Error
	})
	if err != nil {
		return errs.Wrap(errs.KindPersistence, err, "upsert samples")
	}
	return nil
}

func (r *GormSampleRepo) Find(ctx context.Context, pointID uint, month time.Time) (*models.NDVISample, error) {
	var sample models.NDVISample
	err := r.db.WithContext(ctx).
		Where("tree_point_id = ? AND period_month = ?", pointID, models.FirstOfMonth(month)).
		First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Newf(errs.KindLookup, "no sample for point %d in %s", pointID, month.Format("2006-01"))
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func (r *GormSampleRepo) Timeseries(ctx context.Context, pointID uint, from, to time.Time) ([]models.NDVISample, error) {
	var samples []models.NDVISample
	err := r.db.WithContext(ctx).
		Where("tree_point_id = ? AND period_month >= ? AND period_month <= ?", pointID, from, to).
		Order("period_month ASC").
		Find(&samples).Error
	return samples, err
}

func (r *GormSampleRepo) Declines(ctx context.Context, threshold float64, from, to time.Time) ([]models.NDVISample, error) {
	var samples []models.NDVISample
	err := r.db.WithContext(ctx).
		Preload("TreePoint").
		Where("ndvi_diff IS NOT NULL AND ndvi_diff < ?", threshold).
		Where("period_month >= ? AND period_month <= ?", from, to).
		Order("ndvi_diff ASC, id ASC").
		Find(&samples).Error
	return samples, err
}

func (r *GormSampleRepo) LatestPerPoint(ctx context.Context, pointIDs []uint) (map[uint]models.NDVISample, error) {
	out := make(map[uint]models.NDVISample, len(pointIDs))
	if len(pointIDs) == 0 {
		return out, nil
	}

	var samples []models.NDVISample
	err := r.db.WithContext(ctx).
		Where("tree_point_id IN ?", pointIDs).
		Order("tree_point_id ASC, period_month DESC").
		Find(&samples).Error
	if err != nil {
		return nil, err
	}

	for _, s := range samples {
		if _, seen := out[s.TreePointID]; !seen {
			out[s.TreePointID] = s
		}
	}
	return out, nil
}

func (r *GormSampleRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.NDVISample{}).
		Count(&count).Error
	return count, err
}
