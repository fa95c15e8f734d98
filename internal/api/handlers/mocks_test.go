package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/service"
)

// MockAlertService is a mock implementation of AlertService
type MockAlertService struct {
	mock.Mock
}

func (m *MockAlertService) GetAlerts(ctx context.Context, threshold float64, monthsBack int) ([]models.Alert, error) {
	args := m.Called(ctx, threshold, monthsBack)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Alert), args.Error(1)
}

func (m *MockAlertService) GetSeverityCounts(ctx context.Context, threshold float64, monthsBack int) (*service.SeverityCounts, error) {
	args := m.Called(ctx, threshold, monthsBack)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SeverityCounts), args.Error(1)
}

// MockRegistryService is a mock implementation of RegistryService
type MockRegistryService struct {
	mock.Mock
}

func (m *MockRegistryService) AddPoint(ctx context.Context, in service.NewPoint) (*models.TreePoint, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TreePoint), args.Error(1)
}

func (m *MockRegistryService) ImportPoints(ctx context.Context, header []string, rows []map[string]string, cols service.ImportColumns) (int, error) {
	args := m.Called(ctx, header, rows, cols)
	return args.Int(0), args.Error(1)
}

func (m *MockRegistryService) ListPoints(ctx context.Context) ([]models.TreePoint, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TreePoint), args.Error(1)
}

func (m *MockRegistryService) GetPoint(ctx context.Context, id uint) (*models.TreePoint, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TreePoint), args.Error(1)
}

func (m *MockRegistryService) ValidPointsForProcessing(ctx context.Context) ([]models.TreePoint, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TreePoint), args.Error(1)
}

func (m *MockRegistryService) SubmitCitizenReport(ctx context.Context, in service.CitizenReport) (*models.TreePoint, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TreePoint), args.Error(1)
}

func (m *MockRegistryService) ListCitizenReports(ctx context.Context, limit int) ([]service.ReportSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.ReportSummary), args.Error(1)
}

// MockSampleStore is a mock implementation of SampleStore
type MockSampleStore struct {
	mock.Mock
}

func (m *MockSampleStore) UpsertSample(ctx context.Context, pointID uint, month time.Time, current, prior *float64) (*models.NDVISample, error) {
	args := m.Called(ctx, pointID, month, current, prior)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.NDVISample), args.Error(1)
}

func (m *MockSampleStore) UpsertBatch(ctx context.Context, writes []service.SampleWrite) (int, error) {
	args := m.Called(ctx, writes)
	return args.Int(0), args.Error(1)
}

func (m *MockSampleStore) GetTimeseries(ctx context.Context, pointID uint, monthsBack int) ([]models.NDVISample, error) {
	args := m.Called(ctx, pointID, monthsBack)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.NDVISample), args.Error(1)
}

func (m *MockSampleStore) Find(ctx context.Context, pointID uint, month time.Time) (*models.NDVISample, error) {
	args := m.Called(ctx, pointID, month)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.NDVISample), args.Error(1)
}

func (m *MockSampleStore) LatestPerPoint(ctx context.Context, pointIDs []uint) (map[uint]models.NDVISample, error) {
	args := m.Called(ctx, pointIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint]models.NDVISample), args.Error(1)
}

func (m *MockSampleStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockRunTrigger is a mock implementation of RunTrigger
type MockRunTrigger struct {
	mock.Mock
}

func (m *MockRunTrigger) Trigger(ctx context.Context, date, mode string) (*models.RunResult, error) {
	args := m.Called(ctx, date, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RunResult), args.Error(1)
}

// MockRunRepo is a mock implementation of RunRepo
type MockRunRepo struct {
	mock.Mock
}

func (m *MockRunRepo) Create(ctx context.Context, run *models.RunResult) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRunRepo) Recent(ctx context.Context, limit int) ([]models.RunResult, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RunResult), args.Error(1)
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}
