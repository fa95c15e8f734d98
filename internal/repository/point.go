package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"gorm.io/gorm"
)

// PointRepo interface for tree point storage
type PointRepo interface {
	Create(ctx context.Context, point *models.TreePoint) error
	List(ctx context.Context) ([]models.TreePoint, error)
	FindByID(ctx context.Context, id uint) (*models.TreePoint, error)
	// FindByExternalID matches tree_id case-insensitively
	FindByExternalID(ctx context.Context, externalID string) (*models.TreePoint, error)
	ExistsAtCoords(ctx context.Context, lon, lat float64) (bool, error)
	// ListBySource returns points of one source, newest first; limit <= 0 means all
	ListBySource(ctx context.Context, source models.PointSource, limit int) ([]models.TreePoint, error)
	Count(ctx context.Context) (int64, error)
}

// InMemoryPointRepo stores points in memory in insertion order
type InMemoryPointRepo struct {
	points []*models.TreePoint
	nextID uint
	mu     sync.RWMutex
}

func NewInMemoryPointRepo() *InMemoryPointRepo {
	return &InMemoryPointRepo{
		points: make([]*models.TreePoint, 0, 256),
		nextID: 1,
	}
}

func (r *InMemoryPointRepo) Create(ctx context.Context, point *models.TreePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id := point.ExternalID(); id != "" {
		for _, p := range r.points {
			if p.ExternalID() == id {
				return errs.Newf(errs.KindValidation, "tree_id %q already registered", id)
			}
		}
	}

	if point.CreatedAt.IsZero() {
		point.CreatedAt = time.Now().UTC()
	}
	stored := *point
	stored.ID = r.nextID
	r.nextID++
	r.points = append(r.points, &stored)
	point.ID = stored.ID
	return nil
}

func (r *InMemoryPointRepo) List(ctx context.Context) ([]models.TreePoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TreePoint, 0, len(r.points))
	for _, p := range r.points {
		out = append(out, *p)
	}
	return out, nil
}

func (r *InMemoryPointRepo) FindByID(ctx context.Context, id uint) (*models.TreePoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.points {
		if p.ID == id {
			found := *p
			return &found, nil
		}
	}
	return nil, errs.Newf(errs.KindLookup, "point %d not found", id)
}

func (r *InMemoryPointRepo) FindByExternalID(ctx context.Context, externalID string) (*models.TreePoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.points {
		if p.TreeID != nil && strings.EqualFold(*p.TreeID, externalID) {
			found := *p
			return &found, nil
		}
	}
	return nil, errs.Newf(errs.KindLookup, "point with tree_id %q not found", externalID)
}

func (r *InMemoryPointRepo) ExistsAtCoords(ctx context.Context, lon, lat float64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.points {
		if p.Lon == lon && p.Lat == lat {
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryPointRepo) ListBySource(ctx context.Context, source models.PointSource, limit int) ([]models.TreePoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TreePoint, 0)
	for _, p := range r.points {
		if p.Source == source {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryPointRepo) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.points)), nil
}

// GormPointRepo stores points through gorm (PostgreSQL or SQLite)
type GormPointRepo struct {
	db *gorm.DB
}

func NewGormPointRepo(db *gorm.DB) *GormPointRepo {
	return &GormPointRepo{db: db}
}

func (r *GormPointRepo) Create(ctx context.Context, point *models.TreePoint) error {
	err := r.db.WithContext(ctx).Create(point).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Newf(errs.KindValidation, "tree_id %q already registered", point.ExternalID())
	}
	if err != nil {
		return errs.Wrap(errs.KindPersistence, err, "create point")
	}
	return nil
}

func (r *GormPointRepo) List(ctx context.Context) ([]models.TreePoint, error) {
	var points []models.TreePoint
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Find(&points).Error
	return points, err
}

func (r *GormPointRepo) FindByID(ctx context.Context, id uint) (*models.TreePoint, error) {
	var point models.TreePoint
	err := r.db.WithContext(ctx).First(&point, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Newf(errs.KindLookup, "point %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &point, nil
}

func (r *GormPointRepo) FindByExternalID(ctx context.Context, externalID string) (*models.TreePoint, error) {
	var point models.TreePoint
	err := r.db.WithContext(ctx).
		Where("UPPER(tree_id) = ?", strings.ToUpper(externalID)).
		Order("id ASC").
		First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Newf(errs.KindLookup, "point with tree_id %q not found", externalID)
	}
	if err != nil {
		return nil, err
	}
	return &point, nil
}

func (r *GormPointRepo) ExistsAtCoords(ctx context.Context, lon, lat float64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TreePoint{}).
		Where("lon = ? AND lat = ?", lon, lat).
		Count(&count).Error
	return count > 0, err
}

func (r *GormPointRepo) ListBySource(ctx context.Context, source models.PointSource, limit int) ([]models.TreePoint, error) {
	var points []models.TreePoint
	query := r.db.WithContext(ctx).
		Where("source = ?", source).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&points).Error
	return points, err
}

func (r *GormPointRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TreePoint{}).
		Count(&count).Error
	return count, err
}
