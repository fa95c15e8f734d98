package repository

import (
	"context"
	"sync"

	"github.com/treehealth/ndvi-monitor/internal/models"
	"gorm.io/gorm"
)

// RunRepo interface for processing run history
type RunRepo interface {
	Create(ctx context.Context, run *models.RunResult) error
	Recent(ctx context.Context, limit int) ([]models.RunResult, error)
}

// InMemoryRunRepo stores runs in memory
type InMemoryRunRepo struct {
	runs []models.RunResult
	mu   sync.RWMutex
}

func NewInMemoryRunRepo() *InMemoryRunRepo {
	return &InMemoryRunRepo{
		runs: make([]models.RunResult, 0, 64),
	}
}

func (r *InMemoryRunRepo) Create(ctx context.Context, run *models.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

// Recent returns the newest runs first
func (r *InMemoryRunRepo) Recent(ctx context.Context, limit int) ([]models.RunResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.RunResult, 0, limit)
	for i := len(r.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.runs[i])
	}
	return out, nil
}

// GormRunRepo stores runs through gorm
type GormRunRepo struct {
	db *gorm.DB
}

func NewGormRunRepo(db *gorm.DB) *GormRunRepo {
	return &GormRunRepo{db: db}
}

func (r *GormRunRepo) Create(ctx context.Context, run *models.RunResult) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *GormRunRepo) Recent(ctx context.Context, limit int) ([]models.RunResult, error) {
	var runs []models.RunResult
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
