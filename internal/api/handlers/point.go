package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/geo"
	"github.com/treehealth/ndvi-monitor/internal/importer"
	"github.com/treehealth/ndvi-monitor/internal/service"
)

const defaultTimeseriesMonths = 24

// PointHandler serves the tree point registry and per-point samples
type PointHandler struct {
	registry service.RegistryService
	samples  service.SampleStore
}

// NewPointHandler creates a new point handler
func NewPointHandler(registry service.RegistryService, samples service.SampleStore) *PointHandler {
	return &PointHandler{
		registry: registry,
		samples:  samples,
	}
}

// ListPoints handles GET /api/points
func (h *PointHandler) ListPoints(c *gin.Context) {
	points, err := h.registry.ListPoints(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"points": points,
		"count":  len(points),
	})
}

// CreatePoint handles POST /api/points
func (h *PointHandler) CreatePoint(c *gin.Context) {
	var in service.NewPoint
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, errs.Wrap(errs.KindValidation, err, "invalid request body"))
		return
	}

	point, err := h.registry.AddPoint(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, point)
}

// ImportPoints handles POST /api/points/import (multipart field "file").
// Optional form fields lon_col, lat_col, species_col and id_col override the header names;
// encoding is auto, utf-8 or shift_jis.
func (h *PointHandler) ImportPoints(c *gin.Context) {
	enc, err := importer.ParseEncoding(c.PostForm("encoding"))
	if err != nil {
		respondError(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, errs.Wrap(errs.KindValidation, err, "csv file is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, errs.Wrap(errs.KindValidation, err, "failed to open upload"))
		return
	}
	defer f.Close()

	table, err := importer.ReadCSV(f, importer.WithEncoding(enc))
	if err != nil {
		respondError(c, err)
		return
	}

	cols := service.DefaultImportColumns()
	cols.Lon = c.DefaultPostForm("lon_col", cols.Lon)
	cols.Lat = c.DefaultPostForm("lat_col", cols.Lat)
	cols.Species = c.DefaultPostForm("species_col", cols.Species)
	cols.ID = c.DefaultPostForm("id_col", cols.ID)

	imported, err := h.registry.ImportPoints(c.Request.Context(), table.Header, table.Rows, cols)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"rows":     len(table.Rows),
	})
}

// GetFeatures handles GET /api/points/features: the processable points with their latest sample
func (h *PointHandler) GetFeatures(c *gin.Context) {
	ctx := c.Request.Context()
	points, err := h.registry.ValidPointsForProcessing(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	ids := make([]uint, len(points))
	for i := range points {
		ids[i] = points[i].ID
	}
	latest, err := h.samples.LatestPerPoint(ctx, ids)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, geo.PointCollection(points, latest))
}

// GetTimeseries handles GET /api/points/:id/timeseries
func (h *PointHandler) GetTimeseries(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, errs.Newf(errs.KindValidation, "invalid point id %q", c.Param("id")))
		return
	}

	months := defaultTimeseriesMonths
	if v := c.Query("months"); v != "" {
		months, err = strconv.Atoi(v)
		if err != nil {
			respondError(c, errs.Newf(errs.KindValidation, "months must be an integer, got %q", v))
			return
		}
	}

	ctx := c.Request.Context()
	point, err := h.registry.GetPoint(ctx, uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	samples, err := h.samples.GetTimeseries(ctx, point.ID, months)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"point":   point,
		"samples": samples,
		"count":   len(samples),
	})
}

// CreateCitizenReport handles POST /api/citizen-reports
func (h *PointHandler) CreateCitizenReport(c *gin.Context) {
	var in service.CitizenReport
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, errs.Wrap(errs.KindValidation, err, "invalid request body"))
		return
	}

	point, err := h.registry.SubmitCitizenReport(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, point)
}

// ListCitizenReports handles GET /api/citizen-reports
func (h *PointHandler) ListCitizenReports(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(c, errs.Newf(errs.KindValidation, "limit must be a non-negative integer, got %q", v))
			return
		}
		limit = n
	}

	reports, err := h.registry.ListCitizenReports(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}
