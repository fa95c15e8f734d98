package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
)

// NewPoint is a manually registered tree
type NewPoint struct {
	TreeID      string   `json:"tree_id"`
	Species     string   `json:"species"`
	Lon         *float64 `json:"lon" validate:"required,longitude"`
	Lat         *float64 `json:"lat" validate:"required,latitude"`
	Source      string   `json:"source"`
	Description string   `json:"description"`
}

// CitizenReport is a field observation submitted by a member of the public
type CitizenReport struct {
	Lon         *float64 `json:"lon" validate:"required,longitude"`
	Lat         *float64 `json:"lat" validate:"required,latitude"`
	Species     string   `json:"species"`
	ReportType  string   `json:"report_type"`
	Severity    int      `json:"severity" validate:"omitempty,min=1,max=5"`
	Description string   `json:"description"`
}

// ReportStatusReceived marks a citizen report that has not been reviewed
const ReportStatusReceived = "received"

// ReportSummary is one row of the citizen report listing
type ReportSummary struct {
	ID          uint      `json:"id"`
	Lon         float64   `json:"lon"`
	Lat         float64   `json:"lat"`
	Species     string    `json:"species,omitempty"`
	ReportType  string    `json:"report_type,omitempty"`
	Severity    int       `json:"severity,omitempty"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImportColumns names the CSV headers holding each field; ID is optional
type ImportColumns struct {
	Lon     string
	Lat     string
	Species string
	ID      string
}

// DefaultImportColumns matches the municipal street-tree survey exports
func DefaultImportColumns() ImportColumns {
	return ImportColumns{Lon: "経度", Lat: "緯度", Species: "樹種"}
}

// RegistryService owns the tree point registry and decides which points are processed
type RegistryService interface {
	AddPoint(ctx context.Context, in NewPoint) (*models.TreePoint, error)
	ImportPoints(ctx context.Context, header []string, rows []map[string]string, cols ImportColumns) (int, error)
	ListPoints(ctx context.Context) ([]models.TreePoint, error)
	GetPoint(ctx context.Context, id uint) (*models.TreePoint, error)
	ValidPointsForProcessing(ctx context.Context) ([]models.TreePoint, error)
	SubmitCitizenReport(ctx context.Context, in CitizenReport) (*models.TreePoint, error)
	// ListCitizenReports returns submitted reports newest first; limit <= 0 means all
	ListCitizenReports(ctx context.Context, limit int) ([]ReportSummary, error)
}

type registryService struct {
	repo     repository.PointRepo
	policy   *ProvenancePolicy
	filters  []PointFilter
	validate *validator.Validate
}

// NewRegistryService creates a registry with the given provenance policy and spatial filters
func NewRegistryService(repo repository.PointRepo, policy *ProvenancePolicy, filters ...PointFilter) RegistryService {
	return &registryService{
		repo:     repo,
		policy:   policy,
		filters:  filters,
		validate: validator.New(),
	}
}

func (s *registryService) AddPoint(ctx context.Context, in NewPoint) (*models.TreePoint, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid point")
	}

	point := &models.TreePoint{
		TreeID:      models.StringPtr(in.TreeID),
		Species:     strings.TrimSpace(in.Species),
		Lon:         *in.Lon,
		Lat:         *in.Lat,
		Source:      models.ParsePointSource(in.Source),
		Description: in.Description,
	}
	if err := point.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, point); err != nil {
		return nil, err
	}

	logger.Info().
		Uint("point_id", point.ID).
		Str("tree_id", point.ExternalID()).
		Str("source", string(point.Source)).
		Msg("Tree point added")
	return point, nil
}

func (s *registryService) ImportPoints(ctx context.Context, header []string, rows []map[string]string, cols ImportColumns) (int, error) {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range []string{cols.Lon, cols.Lat} {
		if c == "" || !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return 0, errs.Newf(errs.KindValidation, "missing columns: %s", strings.Join(missing, ", "))
	}

	type coord struct{ lon, lat float64 }
	seen := make(map[coord]bool)
	imported := 0

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return imported, err
		}

		lon, errLon := strconv.ParseFloat(strings.TrimSpace(row[cols.Lon]), 64)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(row[cols.Lat]), 64)
		if err := errors.Join(errLon, errLat); err != nil {
			logger.Warn().Err(err).Int("row", i+1).Msg("Skipping row with unparsable coordinates")
			continue
		}
		if err := models.ValidateCoordinates(lon, lat); err != nil {
			logger.Warn().Err(err).Int("row", i+1).Msg("Skipping row with invalid coordinates")
			continue
		}

		key := coord{lon, lat}
		if seen[key] {
			continue
		}
		exists, err := s.repo.ExistsAtCoords(ctx, lon, lat)
		if err != nil {
			return imported, fmt.Errorf("checking duplicates: %w", err)
		}
		seen[key] = true
		if exists {
			continue
		}

		point := &models.TreePoint{
			Species: strings.TrimSpace(row[cols.Species]),
			Lon:     lon,
			Lat:     lat,
			Source:  models.SourceCSVImport,
		}
		if cols.ID != "" {
			point.TreeID = models.StringPtr(row[cols.ID])
		}
		if err := point.SetAttributes(extraColumns(row, cols)); err != nil {
			logger.Warn().Err(err).Int("row", i+1).Msg("Dropping unencodable attributes")
		}

		if err := s.repo.Create(ctx, point); err != nil {
			if errors.Is(err, errs.Validation) {
				logger.Warn().Err(err).Int("row", i+1).Msg("Skipping row")
				continue
			}
			return imported, err
		}
		imported++
	}

	logger.Info().Int("imported", imported).Int("rows", len(rows)).Msg("Imported tree points from CSV")
	return imported, nil
}

func extraColumns(row map[string]string, cols ImportColumns) map[string]string {
	extra := make(map[string]string)
	for k, v := range row {
		switch k {
		case cols.Lon, cols.Lat, cols.Species, cols.ID:
			continue
		}
		if v != "" {
			extra[k] = v
		}
	}
	return extra
}

func (s *registryService) ListPoints(ctx context.Context) ([]models.TreePoint, error) {
	return s.repo.List(ctx)
}

func (s *registryService) GetPoint(ctx context.Context, id uint) (*models.TreePoint, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *registryService) ValidPointsForProcessing(ctx context.Context) ([]models.TreePoint, error) {
	points, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		point models.TreePoint
		rank  int
	}
	kept := make([]ranked, 0, len(points))
	dropped := make(map[string]int)

	for i := range points {
		p := &points[i]
		rank, ok := s.policy.Rank(p)
		if !ok {
			dropped[s.policy.Name()]++
			continue
		}
		if stage, reason := s.firstRejection(p); reason != "" {
			logger.Debug().
				Uint("point_id", p.ID).
				Str("tree_id", p.ExternalID()).
				Float64("lon", p.Lon).
				Float64("lat", p.Lat).
				Str("reason", reason).
				Msg("Excluding point from processing")
			dropped[stage]++
			continue
		}
		kept = append(kept, ranked{point: *p, rank: rank})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].rank < kept[j].rank })

	out := make([]models.TreePoint, len(kept))
	for i, k := range kept {
		out[i] = k.point
	}

	logger.Info().
		Int("total", len(points)).
		Int("valid", len(out)).
		Interface("excluded", dropped).
		Msg("Selected points for processing")
	return out, nil
}

func (s *registryService) firstRejection(p *models.TreePoint) (string, string) {
	for _, f := range s.filters {
		if reason := f.Apply(p); reason != "" {
			return f.Name(), reason
		}
	}
	return "", ""
}

func (s *registryService) SubmitCitizenReport(ctx context.Context, in CitizenReport) (*models.TreePoint, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid report")
	}

	point := &models.TreePoint{
		Species:     strings.TrimSpace(in.Species),
		Lon:         *in.Lon,
		Lat:         *in.Lat,
		Source:      models.SourceCitizenReport,
		Description: in.Description,
	}
	attrs := map[string]string{"status": ReportStatusReceived}
	if in.ReportType != "" {
		attrs["report_type"] = in.ReportType
	}
	if in.Severity > 0 {
		attrs["severity"] = strconv.Itoa(in.Severity)
	}
	if err := point.SetAttributes(attrs); err != nil {
		return nil, err
	}
	if err := point.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, point); err != nil {
		return nil, err
	}

	logger.Info().
		Uint("point_id", point.ID).
		Float64("lon", point.Lon).
		Float64("lat", point.Lat).
		Str("report_type", in.ReportType).
		Msg("Citizen report received")
	return point, nil
}

func (s *registryService) ListCitizenReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	points, err := s.repo.ListBySource(ctx, models.SourceCitizenReport, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "list citizen reports")
	}

	out := make([]ReportSummary, 0, len(points))
	for _, p := range points {
		out = append(out, summarizeReport(p))
	}
	return out, nil
}

func summarizeReport(p models.TreePoint) ReportSummary {
	r := ReportSummary{
		ID:          p.ID,
		Lon:         p.Lon,
		Lat:         p.Lat,
		Species:     p.Species,
		Status:      ReportStatusReceived,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}

	var attrs map[string]string
	if len(p.Attributes) > 0 {
		if err := json.Unmarshal(p.Attributes, &attrs); err != nil {
			logger.Warn().Err(err).Uint("point_id", p.ID).Msg("Unreadable citizen report attributes")
			return r
		}
	}
	r.ReportType = attrs["report_type"]
	if v, err := strconv.Atoi(attrs["severity"]); err == nil {
		r.Severity = v
	}
	if st := attrs["status"]; st != "" {
		r.Status = st
	}
	return r
}
