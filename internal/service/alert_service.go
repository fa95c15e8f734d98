package service

import (
	"context"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
)

// SeverityCounts holds counts for each severity level
type SeverityCounts struct {
	High   int64 `json:"high"`
	Medium int64 `json:"medium"`
	Total  int64 `json:"total"`
}

// AlertService derives decline alerts from stored samples. It never writes.
type AlertService interface {
	GetAlerts(ctx context.Context, threshold float64, monthsBack int) ([]models.Alert, error)
	GetSeverityCounts(ctx context.Context, threshold float64, monthsBack int) (*SeverityCounts, error)
}

type alertService struct {
	repo repository.SampleRepo
	now  func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(repo repository.SampleRepo) AlertService {
	return &alertService{
		repo: repo,
		now:  time.Now,
	}
}

func (s *alertService) GetAlerts(ctx context.Context, threshold float64, monthsBack int) ([]models.Alert, error) {
	if monthsBack < 0 {
		return nil, errs.Newf(errs.KindValidation, "months must be >= 0, got %d", monthsBack)
	}

	from, to := models.MonthWindow(s.now(), monthsBack)
	samples, err := s.repo.Declines(ctx, threshold, from, to)
	if err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(samples))
	for i := range samples {
		sample := &samples[i]
		if sample.NDVIDiff == nil || sample.TreePoint == nil {
			continue
		}
		alerts = append(alerts, models.NewAlert(sample.TreePoint, sample, threshold))
	}
	return alerts, nil
}

func (s *alertService) GetSeverityCounts(ctx context.Context, threshold float64, monthsBack int) (*SeverityCounts, error) {
	alerts, err := s.GetAlerts(ctx, threshold, monthsBack)
	if err != nil {
		return nil, err
	}

	counts := &SeverityCounts{Total: int64(len(alerts))}
	for _, a := range alerts {
		switch a.Severity {
		case models.SeverityHigh:
			counts.High++
		case models.SeverityMedium:
			counts.Medium++
		}
	}
	return counts, nil
}
