package service_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
	"github.com/treehealth/ndvi-monitor/internal/service"
)

var _ = Describe("SampleStore", func() {
	for _, backend := range backends {
		backend := backend

		Context("on "+backend, func() {
			sampleStoreSpecs(backend)
		})
	}
})

func sampleStoreSpecs(backend string) {
	var (
		ctx    context.Context
		points repository.PointRepo
		store  service.SampleStore
		point  *models.TreePoint
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		var samples repository.SampleRepo
		points, samples = newRepos(backend)
		store = service.NewSampleStore(samples)
		point = &models.TreePoint{Lon: 139.7, Lat: 35.6}
		Expect(points.Create(ctx, point)).To(Succeed())
		now = models.FirstOfMonth(time.Now())
	})

	It("should be idempotent per point and month", func() {
		_, err := store.UpsertSample(ctx, point.ID, now, ptr(0.7), ptr(0.5))
		Expect(err).NotTo(HaveOccurred())
		_, err = store.UpsertSample(ctx, point.ID, now.AddDate(0, 0, 14), ptr(0.6), ptr(0.5))
		Expect(err).NotTo(HaveOccurred())

		count, _ := store.Count(ctx)
		Expect(count).To(Equal(int64(1)))

		got, err := store.Find(ctx, point.ID, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(*got.NDVI).To(BeNumerically("~", 0.6, 1e-9))
		Expect(*got.NDVIDiff).To(BeNumerically("~", 0.1, 1e-9))
	})

	It("should store a null diff when either value is missing", func() {
		s, err := store.UpsertSample(ctx, point.ID, now, nil, ptr(0.6))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.NDVIDiff).To(BeNil())
	})

	It("should count distinct keys written by a batch", func() {
		n, err := store.UpsertBatch(ctx, []service.SampleWrite{
			{PointID: point.ID, Month: now, Current: ptr(0.4)},
			{PointID: point.ID, Month: now, Current: ptr(0.5)},
			{PointID: point.ID, Month: now.AddDate(0, -1, 0), Current: ptr(0.5)},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("should roll back the whole batch on a persistence failure", func() {
		n, err := store.UpsertBatch(ctx, []service.SampleWrite{
			{PointID: point.ID, Month: now, Current: ptr(0.4)},
			{PointID: 404, Month: now, Current: ptr(0.5)},
		})
		Expect(err).To(MatchError(errs.Persistence))
		Expect(n).To(BeZero())

		count, _ := store.Count(ctx)
		Expect(count).To(BeZero())
	})

	It("should serialize concurrent writers on the same key", func() {
		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(v float64) {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := store.UpsertBatch(ctx, []service.SampleWrite{
					{PointID: point.ID, Month: now, Current: &v, Prior: ptr(0.5)},
					{PointID: point.ID, Month: now.AddDate(-1, 0, 0), Current: ptr(0.5)},
				})
				Expect(err).NotTo(HaveOccurred())
			}(float64(i) / 100)
		}
		wg.Wait()

		count, _ := store.Count(ctx)
		Expect(count).To(Equal(int64(2)))
	})

	Describe("GetTimeseries", func() {
		BeforeEach(func() {
			for _, back := range []int{0, 2, 5, 30} {
				_, err := store.UpsertSample(ctx, point.ID, now.AddDate(0, -back, 0), ptr(0.5), nil)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should return the window ascending", func() {
			series, err := store.GetTimeseries(ctx, point.ID, 24)
			Expect(err).NotTo(HaveOccurred())
			Expect(series).To(HaveLen(3))
			Expect(series[0].PeriodMonth).To(BeTemporally("==", now.AddDate(0, -5, 0)))
			Expect(series[2].PeriodMonth).To(BeTemporally("==", now))
		})

		It("should include only the current month for a zero window", func() {
			series, err := store.GetTimeseries(ctx, point.ID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(series).To(HaveLen(1))
		})

		It("should reject negative windows", func() {
			_, err := store.GetTimeseries(ctx, point.ID, -1)
			Expect(err).To(MatchError(errs.Validation))
		})
	})
}
