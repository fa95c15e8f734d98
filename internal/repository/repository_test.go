package repository_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
	"github.com/treehealth/ndvi-monitor/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type repos struct {
	points  repository.PointRepo
	samples repository.SampleRepo
	runs    repository.RunRepo
}

func backends(t *testing.T) map[string]func() repos {
	return map[string]func() repos{
		"memory": func() repos {
			points := repository.NewInMemoryPointRepo()
			return repos{points: points, samples: repository.NewInMemorySampleRepo(points), runs: repository.NewInMemoryRunRepo()}
		},
		"sqlite": func() repos {
			db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "repo.db")})
			require.NoError(t, err)
			require.NoError(t, storage.AutoMigrate(db))
			t.Cleanup(func() { storage.Close(db) })
			return repos{
				points:  repository.NewGormPointRepo(db),
				samples: repository.NewGormSampleRepo(db),
				runs:    repository.NewGormRunRepo(db),
			}
		},
	}
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestPointRepo(t *testing.T) {
	ctx := context.Background()

	for name, build := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := build()

			a := &models.TreePoint{TreeID: models.StringPtr("PT-001"), Species: "クロマツ", Lon: 139.7, Lat: 35.6, Source: models.SourceCSVImport}
			b := &models.TreePoint{Species: "ケヤキ", Lon: 139.8, Lat: 35.7, Source: models.SourceManual}
			require.NoError(t, r.points.Create(ctx, a))
			require.NoError(t, r.points.Create(ctx, b))
			assert.NotZero(t, a.ID)
			assert.Greater(t, b.ID, a.ID)

			t.Run("should list in insertion order", func(t *testing.T) {
				list, err := r.points.List(ctx)
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, a.ID, list[0].ID)
				assert.Equal(t, b.ID, list[1].ID)
			})

			t.Run("should find by external id ignoring case", func(t *testing.T) {
				p, err := r.points.FindByExternalID(ctx, "pt-001")
				require.NoError(t, err)
				assert.Equal(t, a.ID, p.ID)

				_, err = r.points.FindByExternalID(ctx, "X")
				assert.ErrorIs(t, err, errs.Lookup)
			})

			t.Run("should find by id", func(t *testing.T) {
				p, err := r.points.FindByID(ctx, b.ID)
				require.NoError(t, err)
				assert.Equal(t, "ケヤキ", p.Species)

				_, err = r.points.FindByID(ctx, 9999)
				assert.ErrorIs(t, err, errs.Lookup)
			})

			t.Run("should detect exact coordinates", func(t *testing.T) {
				exists, err := r.points.ExistsAtCoords(ctx, 139.7, 35.6)
				require.NoError(t, err)
				assert.True(t, exists)

				exists, err = r.points.ExistsAtCoords(ctx, 139.7, 35.6000001)
				require.NoError(t, err)
				assert.False(t, exists)
			})

			t.Run("should reject duplicate tree id", func(t *testing.T) {
				err := r.points.Create(ctx, &models.TreePoint{TreeID: models.StringPtr("PT-001"), Lon: 1, Lat: 1})
				assert.ErrorIs(t, err, errs.Validation)

				count, err := r.points.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(2), count)
			})
		})
	}
}

func TestPointRepo_ListBySource(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for name, build := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := build()

			older := &models.TreePoint{Lon: 139.70, Lat: 35.60, Source: models.SourceCitizenReport, CreatedAt: base}
			manual := &models.TreePoint{Lon: 139.71, Lat: 35.61, Source: models.SourceManual, CreatedAt: base.Add(time.Hour)}
			newer := &models.TreePoint{Lon: 139.72, Lat: 35.62, Source: models.SourceCitizenReport, CreatedAt: base.Add(2 * time.Hour)}
			for _, p := range []*models.TreePoint{older, manual, newer} {
				require.NoError(t, r.points.Create(ctx, p))
			}

			reports, err := r.points.ListBySource(ctx, models.SourceCitizenReport, 0)
			require.NoError(t, err)
			require.Len(t, reports, 2)
			assert.Equal(t, newer.ID, reports[0].ID)
			assert.Equal(t, older.ID, reports[1].ID)

			limited, err := r.points.ListBySource(ctx, models.SourceCitizenReport, 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, newer.ID, limited[0].ID)
		})
	}
}

func TestSampleRepo_Upsert(t *testing.T) {
	ctx := context.Background()

	for name, build := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := build()
			p := &models.TreePoint{Lon: 139.7, Lat: 35.6}
			require.NoError(t, r.points.Create(ctx, p))

			t.Run("should keep one row per point and month", func(t *testing.T) {
				first := models.NewSample(p.ID, month(2025, 7), models.Float64Ptr(0.7), models.Float64Ptr(0.5))
				require.NoError(t, r.samples.UpsertBatch(ctx, []*models.NDVISample{first}))

				second := models.NewSample(p.ID, time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC), models.Float64Ptr(0.4), models.Float64Ptr(0.5))
				require.NoError(t, r.samples.UpsertBatch(ctx, []*models.NDVISample{second}))

				count, err := r.samples.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), count)

				got, err := r.samples.Find(ctx, p.ID, month(2025, 7))
				require.NoError(t, err)
				assert.InDelta(t, 0.4, *got.NDVI, 1e-9)
				assert.InDelta(t, -0.1, *got.NDVIDiff, 1e-9)
			})

			t.Run("should apply the last write for duplicate keys in one batch", func(t *testing.T) {
				batch := []*models.NDVISample{
					models.NewSample(p.ID, month(2025, 6), models.Float64Ptr(0.1), nil),
					models.NewSample(p.ID, month(2025, 6), models.Float64Ptr(0.2), nil),
				}
				require.NoError(t, r.samples.UpsertBatch(ctx, batch))

				got, err := r.samples.Find(ctx, p.ID, month(2025, 6))
				require.NoError(t, err)
				assert.InDelta(t, 0.2, *got.NDVI, 1e-9)
				assert.Nil(t, got.NDVIDiff)
			})

			t.Run("should write nothing when one row violates the point reference", func(t *testing.T) {
				before, err := r.samples.Count(ctx)
				require.NoError(t, err)

				batch := []*models.NDVISample{
					models.NewSample(p.ID, month(2025, 1), models.Float64Ptr(0.3), nil),
					models.NewSample(9999, month(2025, 1), models.Float64Ptr(0.3), nil),
				}
				err = r.samples.UpsertBatch(ctx, batch)
				assert.ErrorIs(t, err, errs.Persistence)

				after, err := r.samples.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, before, after)
			})

			t.Run("should return lookup error for missing sample", func(t *testing.T) {
				_, err := r.samples.Find(ctx, p.ID, month(2020, 1))
				assert.ErrorIs(t, err, errs.Lookup)
			})
		})
	}
}

func TestSampleRepo_Queries(t *testing.T) {
	ctx := context.Background()

	for name, build := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := build()
			a := &models.TreePoint{TreeID: models.StringPtr("A"), Lon: 139.7, Lat: 35.6}
			b := &models.TreePoint{TreeID: models.StringPtr("B"), Lon: 139.8, Lat: 35.7}
			require.NoError(t, r.points.Create(ctx, a))
			require.NoError(t, r.points.Create(ctx, b))

			require.NoError(t, r.samples.UpsertBatch(ctx, []*models.NDVISample{
				models.NewSample(a.ID, month(2025, 5), models.Float64Ptr(0.6), models.Float64Ptr(0.8)),
				models.NewSample(a.ID, month(2025, 3), models.Float64Ptr(0.3), models.Float64Ptr(0.8)),
				models.NewSample(a.ID, month(2024, 1), models.Float64Ptr(0.1), models.Float64Ptr(0.9)),
				models.NewSample(b.ID, month(2025, 4), models.Float64Ptr(0.7), models.Float64Ptr(0.75)),
				models.NewSample(b.ID, month(2025, 2), nil, models.Float64Ptr(0.75)),
			}))

			t.Run("should return timeseries ascending within window", func(t *testing.T) {
				series, err := r.samples.Timeseries(ctx, a.ID, month(2025, 1), month(2025, 6))
				require.NoError(t, err)
				require.Len(t, series, 2)
				assert.Equal(t, month(2025, 3), series[0].PeriodMonth.UTC())
				assert.Equal(t, month(2025, 5), series[1].PeriodMonth.UTC())
			})

			t.Run("should return declines ordered by diff with points", func(t *testing.T) {
				declines, err := r.samples.Declines(ctx, -0.1, month(2025, 1), month(2025, 6))
				require.NoError(t, err)
				require.Len(t, declines, 2)
				assert.InDelta(t, -0.5, *declines[0].NDVIDiff, 1e-9)
				assert.InDelta(t, -0.2, *declines[1].NDVIDiff, 1e-9)
				require.NotNil(t, declines[0].TreePoint)
				assert.Equal(t, "A", declines[0].TreePoint.ExternalID())
			})

			t.Run("should return latest sample per point", func(t *testing.T) {
				latest, err := r.samples.LatestPerPoint(ctx, []uint{a.ID, b.ID, 9999})
				require.NoError(t, err)
				require.Len(t, latest, 2)
				assert.Equal(t, month(2025, 5), latest[a.ID].PeriodMonth.UTC())
				assert.Equal(t, month(2025, 4), latest[b.ID].PeriodMonth.UTC())
			})
		})
	}
}

func TestInMemorySampleRepo_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	points := repository.NewInMemoryPointRepo()
	samples := repository.NewInMemorySampleRepo(points)

	p := &models.TreePoint{Lon: 1, Lat: 1}
	require.NoError(t, points.Create(ctx, p))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			err := samples.UpsertBatch(ctx, []*models.NDVISample{models.NewSample(p.ID, month(2025, 1), &v, nil)})
			assert.NoError(t, err)
		}(float64(i) / 100)
	}
	wg.Wait()

	count, err := samples.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunRepo(t *testing.T) {
	ctx := context.Background()

	for name, build := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := build()

			for i := 0; i < 3; i++ {
				run := models.NewRunResult(models.MethodLatestComparative, month(2025, time.Month(i+1)))
				run.StartedAt = time.Date(2025, 8, 1, i, 0, 0, 0, time.UTC)
				run.ProcessedPoints = i
				run.Finish()
				require.NoError(t, r.runs.Create(ctx, run))
			}

			runs, err := r.runs.Recent(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, 2, runs[0].ProcessedPoints)
			assert.Equal(t, 1, runs[1].ProcessedPoints)
			assert.Equal(t, "2025-03-01", runs[0].TargetDateString)
		})
	}
}
