package service_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/repository"
	"github.com/treehealth/ndvi-monitor/internal/service"
)

func newDefaultRegistry(repo repository.PointRepo) service.RegistryService {
	policy, filters, err := service.FiltersFromConfig(config.Default().Filters)
	Expect(err).NotTo(HaveOccurred())
	return service.NewRegistryService(repo, policy, filters...)
}

func ptr(v float64) *float64 { return &v }

var _ = Describe("RegistryService", func() {
	var (
		ctx      context.Context
		repo     *repository.InMemoryPointRepo
		registry service.RegistryService
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = repository.NewInMemoryPointRepo()
		registry = newDefaultRegistry(repo)
	})

	Describe("AddPoint", func() {
		It("should persist a valid point", func() {
			p, err := registry.AddPoint(ctx, service.NewPoint{TreeID: "PT-1", Species: "クロマツ", Lon: ptr(139.7), Lat: ptr(35.6)})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ID).NotTo(BeZero())
			Expect(p.Source).To(Equal(models.SourceManual))
		})

		DescribeTable("should reject out-of-range coordinates without persisting",
			func(lon, lat float64) {
				_, err := registry.AddPoint(ctx, service.NewPoint{Lon: ptr(lon), Lat: ptr(lat)})
				Expect(err).To(MatchError(errs.Validation))

				count, _ := repo.Count(ctx)
				Expect(count).To(BeZero())
			},
			Entry("latitude above 90", 139.7, 91.0),
			Entry("longitude below -180", -181.0, 35.0),
		)

		It("should require both coordinates", func() {
			_, err := registry.AddPoint(ctx, service.NewPoint{Lon: ptr(139.7)})
			Expect(err).To(MatchError(errs.Validation))
		})
	})

	Describe("ImportPoints", func() {
		header := []string{"経度", "緯度", "樹種", "樹木ID", "樹高"}

		It("should fail the whole call when a coordinate column is missing", func() {
			_, err := registry.ImportPoints(ctx, []string{"経度", "樹種"}, nil, service.DefaultImportColumns())
			Expect(err).To(MatchError(errs.Validation))
		})

		It("should skip bad rows and exact duplicates", func() {
			_, err := registry.AddPoint(ctx, service.NewPoint{Lon: ptr(139.1), Lat: ptr(35.1)})
			Expect(err).NotTo(HaveOccurred())

			rows := []map[string]string{
				{"経度": "139.70", "緯度": "35.60", "樹種": "クロマツ", "樹木ID": "PT-1", "樹高": "12"},
				{"経度": "139.70", "緯度": "35.60", "樹種": "クロマツ", "樹木ID": "PT-1b"},
				{"経度": "139.1", "緯度": "35.1", "樹種": "ケヤキ"},
				{"経度": "abc", "緯度": "35.6", "樹種": "ケヤキ"},
				{"経度": "139.8", "緯度": "95", "樹種": "ケヤキ"},
				{"経度": " 139.9 ", "緯度": "35.7", "樹種": "コナラ", "樹木ID": ""},
			}
			cols := service.DefaultImportColumns()
			cols.ID = "樹木ID"

			n, err := registry.ImportPoints(ctx, header, rows, cols)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			points, _ := registry.ListPoints(ctx)
			Expect(points).To(HaveLen(3))
			Expect(points[1].ExternalID()).To(Equal("PT-1"))
			Expect(points[1].Source).To(Equal(models.SourceCSVImport))
			Expect(string(points[1].Attributes)).To(ContainSubstring("樹高"))
			Expect(points[2].TreeID).To(BeNil())
		})
	})

	Describe("ValidPointsForProcessing", func() {
		add := func(treeID, species string, lon, lat float64, source models.PointSource) uint {
			p := &models.TreePoint{TreeID: models.StringPtr(treeID), Species: species, Lon: lon, Lat: lat, Source: source}
			Expect(repo.Create(ctx, p)).To(Succeed())
			return p.ID
		}

		It("should apply provenance, bounds and water filters in priority order", func() {
			report := add("", "", 139.60, 35.70, models.SourceCitizenReport)
			oak := add("NARA_ROAD_7", "コナラ", 139.50, 35.65, models.SourceCSVImport)
			add("X-1", "クロマツ", 139.50, 35.65, models.SourceCSVImport)
			add("PT-9", "ケヤキ", 139.50, 35.65, models.SourceCSVImport)
			add("PT-2", "クロマツ", 141.00, 35.65, models.SourceCSVImport)
			add("PT-3", "クロマツ", 139.90, 35.20, models.SourceCSVImport)
			pine := add("PT-4", "アカマツ", 139.55, 35.66, models.SourceCSVImport)

			valid, err := registry.ValidPointsForProcessing(ctx)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]uint, 0, len(valid))
			for _, p := range valid {
				ids = append(ids, p.ID)
			}
			Expect(ids).To(Equal([]uint{pine, oak, report}))
		})

		It("should treat the bay as lat below 35.4 with inclusive longitude edges", func() {
			onParallel := add("PT-20", "クロマツ", 139.9, 35.4, models.SourceManual)
			add("PT-21", "クロマツ", 139.9, 35.39, models.SourceManual)
			add("PT-22", "クロマツ", 139.7, 35.2, models.SourceManual)
			add("PT-23", "クロマツ", 140.1, 35.2, models.SourceManual)
			west := add("PT-24", "クロマツ", 139.69, 35.2, models.SourceManual)

			valid, err := registry.ValidPointsForProcessing(ctx)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]uint, 0, len(valid))
			for _, p := range valid {
				ids = append(ids, p.ID)
			}
			Expect(ids).To(Equal([]uint{onParallel, west}))
		})

		It("should keep insertion order among equal priority", func() {
			first := add("PT-10", "クロマツ", 139.5, 35.6, models.SourceManual)
			second := add("MATSU_ROAD_1", "クロマツ", 139.6, 35.6, models.SourceManual)

			valid, err := registry.ValidPointsForProcessing(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(valid).To(HaveLen(2))
			Expect(valid[0].ID).To(Equal(first))
			Expect(valid[1].ID).To(Equal(second))
		})

		It("should honour exclude keywords", func() {
			policy := service.NewProvenancePolicy([]service.TrustRule{{
				Name:            "pine",
				SpeciesKeywords: []string{"マツ"},
				ExcludeKeywords: []string{"ツツジ"},
				IDPatterns:      []string{"PT"},
			}}, nil)

			Expect(policy.Apply(&models.TreePoint{TreeID: models.StringPtr("PT1"), Species: "ヤマツツジ"})).NotTo(BeEmpty())
			Expect(policy.Apply(&models.TreePoint{TreeID: models.StringPtr("PT1"), Species: "クロマツ"})).To(BeEmpty())
		})

		It("should match full-width tree ids", func() {
			policy := service.NewProvenancePolicy([]service.TrustRule{{
				Name:            "pine",
				SpeciesKeywords: []string{"マツ"},
				IDPatterns:      []string{"PT"},
			}}, nil)

			Expect(policy.Apply(&models.TreePoint{TreeID: models.StringPtr("ＰＴ－７"), Species: "クロマツ"})).To(BeEmpty())
		})
	})

	Describe("SubmitCitizenReport", func() {
		It("should register a trusted citizen point", func() {
			p, err := registry.SubmitCitizenReport(ctx, service.CitizenReport{
				Lon: ptr(139.74), Lat: ptr(35.65), ReportType: "病気の疑い", Severity: 4, Description: "葉が茶色",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Source).To(Equal(models.SourceCitizenReport))
			Expect(string(p.Attributes)).To(ContainSubstring(`"severity":"4"`))

			valid, err := registry.ValidPointsForProcessing(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(valid).To(HaveLen(1))
		})

		It("should list reports newest first with their attributes", func() {
			first, err := registry.SubmitCitizenReport(ctx, service.CitizenReport{
				Lon: ptr(139.70), Lat: ptr(35.60), ReportType: "倒木の危険", Severity: 2,
			})
			Expect(err).NotTo(HaveOccurred())
			second, err := registry.SubmitCitizenReport(ctx, service.CitizenReport{
				Lon: ptr(139.72), Lat: ptr(35.62), ReportType: "病気の疑い", Severity: 4,
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.AddPoint(ctx, service.NewPoint{TreeID: "PT-9", Species: "クロマツ", Lon: ptr(139.71), Lat: ptr(35.61)})
			Expect(err).NotTo(HaveOccurred())

			reports, err := registry.ListCitizenReports(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(reports).To(HaveLen(2))
			Expect(reports[0].ID).To(Equal(second.ID))
			Expect(reports[0].ReportType).To(Equal("病気の疑い"))
			Expect(reports[0].Severity).To(Equal(4))
			Expect(reports[0].Status).To(Equal(service.ReportStatusReceived))
			Expect(reports[1].ID).To(Equal(first.ID))
		})

		It("should reject invalid severity", func() {
			_, err := registry.SubmitCitizenReport(ctx, service.CitizenReport{Lon: ptr(139.74), Lat: ptr(35.65), Severity: 9})
			Expect(err).To(MatchError(errs.Validation))
		})
	})
})
