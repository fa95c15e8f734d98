package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
	"github.com/treehealth/ndvi-monitor/internal/service"
)

// failingSampleRepo fails every query
type failingSampleRepo struct {
	repository.SampleRepo
}

func (failingSampleRepo) Declines(ctx context.Context, threshold float64, from, to time.Time) ([]models.NDVISample, error) {
	return nil, errors.New("connection refused")
}

var _ = Describe("AlertService", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	for _, backend := range backends {
		backend := backend

		Context("on "+backend, func() {
			var (
				points       repository.PointRepo
				samples      repository.SampleRepo
				alertService service.AlertService
				now          time.Time
			)

			seed := func(treeID string, diff float64, month time.Time) uint {
				p := &models.TreePoint{TreeID: models.StringPtr(treeID), Species: "クロマツ", Lon: 139.7, Lat: 35.6}
				Expect(points.Create(ctx, p)).To(Succeed())
				Expect(samples.UpsertBatch(ctx, []*models.NDVISample{
					models.NewSample(p.ID, month, ptr(0.8+diff), ptr(0.8)),
				})).To(Succeed())
				return p.ID
			}

			BeforeEach(func() {
				points, samples = newRepos(backend)
				alertService = service.NewAlertService(samples)
				now = models.FirstOfMonth(time.Now())
			})

			It("should return declines below the threshold, most negative first", func() {
				seed("MILD", -0.2, now)
				seed("SEVERE", -0.5, now.AddDate(0, -1, 0))
				seed("NOISE", -0.05, now)

				alerts, err := alertService.GetAlerts(ctx, -0.1, 3)
				Expect(err).NotTo(HaveOccurred())
				Expect(alerts).To(HaveLen(2))

				Expect(alerts[0].TreeID).To(Equal("SEVERE"))
				Expect(alerts[0].NDVIDiff).To(BeNumerically("~", -0.5, 1e-9))
				Expect(alerts[0].Severity).To(Equal(models.SeverityHigh))

				Expect(alerts[1].TreeID).To(Equal("MILD"))
				Expect(alerts[1].Severity).To(Equal(models.SeverityMedium))
			})

			It("should ignore samples outside the window", func() {
				seed("OLD", -0.6, now.AddDate(0, -7, 0))

				alerts, err := alertService.GetAlerts(ctx, -0.1, 3)
				Expect(err).NotTo(HaveOccurred())
				Expect(alerts).To(BeEmpty())
			})

			It("should count severities", func() {
				seed("A", -0.5, now)
				seed("B", -0.3, now)
				seed("C", -0.15, now)

				counts, err := alertService.GetSeverityCounts(ctx, -0.1, 3)
				Expect(err).NotTo(HaveOccurred())
				Expect(counts.High).To(Equal(int64(2)))
				Expect(counts.Medium).To(Equal(int64(1)))
				Expect(counts.Total).To(Equal(int64(3)))
			})
		})
	}

	It("should propagate repository errors", func() {
		alertService := service.NewAlertService(failingSampleRepo{})
		_, err := alertService.GetAlerts(ctx, -0.1, 3)
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
	})
})
