package models_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
)

var _ = Describe("ComputeDiff", func() {
	DescribeTable("diff law",
		func(current, prior *float64, expected *float64) {
			diff := models.ComputeDiff(current, prior)
			if expected == nil {
				Expect(diff).To(BeNil())
				return
			}
			Expect(diff).NotTo(BeNil())
			Expect(*diff).To(BeNumerically("~", *expected, 1e-12))
		},
		Entry("both present", models.Float64Ptr(0.7), models.Float64Ptr(0.5), models.Float64Ptr(0.2)),
		Entry("decline", models.Float64Ptr(0.3), models.Float64Ptr(0.8), models.Float64Ptr(-0.5)),
		Entry("current missing", nil, models.Float64Ptr(0.6), nil),
		Entry("prior missing", models.Float64Ptr(0.6), nil, nil),
		Entry("both missing", nil, nil, nil),
	)
})

var _ = Describe("NewSample", func() {
	It("normalizes the period and derives the diff", func() {
		s := models.NewSample(7, time.Date(2024, 8, 17, 13, 0, 0, 0, time.Local), models.Float64Ptr(0.7), models.Float64Ptr(0.5))

		Expect(s.TreePointID).To(Equal(uint(7)))
		Expect(s.PeriodMonth).To(Equal(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)))
		Expect(*s.NDVIDiff).To(BeNumerically("~", 0.2, 1e-12))
	})

	It("treats NaN readings as absent", func() {
		s := models.NewSample(1, time.Now(), models.Float64Ptr(math.NaN()), models.Float64Ptr(0.5))

		Expect(s.NDVI).To(BeNil())
		Expect(s.NDVIDiff).To(BeNil())
		Expect(*s.NDVIPrevYear).To(Equal(0.5))
	})

	It("exposes a stable key", func() {
		a := models.NewSample(1, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), nil, nil)
		b := models.NewSample(1, time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC), nil, nil)
		Expect(a.Key()).To(Equal(b.Key()))
		Expect(a.Key().Less(models.SampleKey{PointID: 2})).To(BeTrue())
	})
})

var _ = Describe("Periods", func() {
	It("computes the prior-year month", func() {
		Expect(models.PriorYearMonth(time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC))).
			To(Equal(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("computes the previous month across a year boundary", func() {
		Expect(models.PreviousMonth(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))).
			To(Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("builds a month window", func() {
		from, to := models.MonthWindow(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), 3)
		Expect(from).To(Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
		Expect(to).To(Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("parses trigger dates", func() {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		d, err := models.ParseDate("", now)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(now))

		d, err = models.ParseDate("2024-07-15", now)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Month()).To(Equal(time.July))

		_, err = models.ParseDate("15/07/2024", now)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("TreePoint", func() {
	DescribeTable("coordinate validation",
		func(lon, lat float64, valid bool) {
			p := &models.TreePoint{Lon: lon, Lat: lat}
			err := p.Validate()
			if valid {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(MatchError(errs.Validation))
			}
		},
		Entry("tokyo", 139.69, 35.68, true),
		Entry("edges", 180.0, -90.0, true),
		Entry("lon too large", 180.01, 0.0, false),
		Entry("lat too small", 0.0, -90.5, false),
		Entry("NaN", math.NaN(), 0.0, false),
	)

	It("maps free-text sources", func() {
		Expect(models.ParsePointSource("CSV_IMPORT")).To(Equal(models.SourceCSVImport))
		Expect(models.ParsePointSource("")).To(Equal(models.SourceManual))
		Expect(models.ParsePointSource("drone")).To(Equal(models.SourceOther))
	})

	It("stores attributes as JSON", func() {
		p := &models.TreePoint{}
		Expect(p.SetAttributes(map[string]string{"樹高(m)": "12"})).To(Succeed())
		Expect(string(p.Attributes)).To(ContainSubstring("12"))
		Expect(p.SetAttributes(nil)).To(Succeed())
		Expect(p.Attributes).To(BeNil())
	})

	It("returns empty external id when absent", func() {
		p := &models.TreePoint{}
		Expect(p.ExternalID()).To(BeEmpty())
		p.TreeID = models.StringPtr(" PT-1 ")
		Expect(p.ExternalID()).To(Equal("PT-1"))
		Expect(models.StringPtr("   ")).To(BeNil())
	})
})

var _ = Describe("Alert", func() {
	It("classifies severity relative to twice the threshold", func() {
		Expect(models.ClassifySeverity(-0.5, -0.1)).To(Equal(models.SeverityHigh))
		Expect(models.ClassifySeverity(-0.2, -0.1)).To(Equal(models.SeverityMedium))
		Expect(models.ClassifySeverity(-0.15, -0.1)).To(Equal(models.SeverityMedium))
	})

	It("builds an alert from a point and sample", func() {
		point := &models.TreePoint{ID: 3, TreeID: models.StringPtr("PT9"), Species: "クロマツ", Lon: 139.7, Lat: 35.6}
		sample := models.NewSample(3, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), models.Float64Ptr(0.3), models.Float64Ptr(0.8))

		alert := models.NewAlert(point, sample, -0.1)
		Expect(alert.TreeID).To(Equal("PT9"))
		Expect(alert.NDVIDiff).To(BeNumerically("~", -0.5, 1e-12))
		Expect(alert.Severity).To(Equal(models.SeverityHigh))
	})
})

var _ = Describe("RunResult", func() {
	It("starts as success and fails with zero processed points", func() {
		r := models.NewRunResult(models.MethodLatestComparative, time.Date(2025, 8, 3, 0, 0, 0, 0, time.UTC))
		Expect(r.IsSuccess()).To(BeTrue())
		Expect(r.TargetDateString).To(Equal("2025-08-03"))

		r.ProcessedPoints = 12
		r.Fail(errs.New(errs.KindPersistence, "commit failed"))
		Expect(r.Status).To(Equal(models.RunStatusError))
		Expect(r.ProcessedPoints).To(BeZero())
		Expect(r.Error).To(ContainSubstring("commit failed"))
		Expect(r.FinishedAt).NotTo(BeZero())
	})

	It("reports failures without claiming an error kind", func() {
		r := models.NewRunResult(models.MethodMonthly, time.Date(2025, 8, 3, 0, 0, 0, 0, time.UTC))
		Expect(r.Err()).NotTo(HaveOccurred())

		r.Fail(errs.New(errs.KindLookup, "point 7 not found"))
		err := r.Err()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("point 7 not found"))
		Expect(errs.KindOf(err)).To(BeEmpty())
		Expect(err).NotTo(MatchError(errs.Persistence))
	})
})
