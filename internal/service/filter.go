package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/geo"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"golang.org/x/text/unicode/norm"
)

// PointFilter is one stage of the processing eligibility pipeline.
// Apply returns "" to keep the point, or the reason it was dropped.
type PointFilter interface {
	Name() string
	Apply(p *models.TreePoint) string
}

// TrustRule recognizes records from a known-good survey dataset
type TrustRule struct {
	Name            string
	SpeciesKeywords []string
	ExcludeKeywords []string
	IDPatterns      []string
	Priority        int
}

// Matches requires a species keyword and an id pattern; both are substring checks
func (r TrustRule) Matches(p *models.TreePoint) bool {
	if !containsAny(p.Species, r.SpeciesKeywords) || containsAny(p.Species, r.ExcludeKeywords) {
		return false
	}
	return containsAny(p.ExternalID(), r.IDPatterns)
}

// containsAny compares NFKC forms so full-width ids such as "ＰＴ" match "PT"
func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	s = norm.NFKC.String(s)
	for _, n := range needles {
		if n != "" && strings.Contains(s, norm.NFKC.String(n)) {
			return true
		}
	}
	return false
}

// trustedSourceRank sorts points admitted only by source after all rule matches
const trustedSourceRank = math.MaxInt32

// ProvenancePolicy admits points matching a trust rule or coming from a trusted source
type ProvenancePolicy struct {
	rules   []TrustRule
	sources map[models.PointSource]bool
}

func NewProvenancePolicy(rules []TrustRule, trustedSources []models.PointSource) *ProvenancePolicy {
	sorted := make([]TrustRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	sources := make(map[models.PointSource]bool, len(trustedSources))
	for _, s := range trustedSources {
		sources[s] = true
	}
	return &ProvenancePolicy{rules: sorted, sources: sources}
}

// Rank returns the priority of the best matching rule
func (pp *ProvenancePolicy) Rank(p *models.TreePoint) (int, bool) {
	for _, r := range pp.rules {
		if r.Matches(p) {
			return r.Priority, true
		}
	}
	if pp.sources[p.Source] {
		return trustedSourceRank, true
	}
	return 0, false
}

func (pp *ProvenancePolicy) Name() string { return "provenance" }

func (pp *ProvenancePolicy) Apply(p *models.TreePoint) string {
	if _, ok := pp.Rank(p); !ok {
		return "untrusted provenance"
	}
	return ""
}

// BoundsFilter drops points outside the study area
type BoundsFilter struct {
	Bound geo.Bound
}

func (f BoundsFilter) Name() string { return "bounds" }

func (f BoundsFilter) Apply(p *models.TreePoint) string {
	if !f.Bound.Contains(p.Lon, p.Lat) {
		return fmt.Sprintf("outside study area %s", f.Bound)
	}
	return ""
}

// ExclusionFilter drops points inside any of the regions (open water)
type ExclusionFilter struct {
	Regions []*geo.Region
}

func (f ExclusionFilter) Name() string { return "exclusion" }

func (f ExclusionFilter) Apply(p *models.TreePoint) string {
	for _, r := range f.Regions {
		if r.Contains(p.Lon, p.Lat) {
			return "inside exclusion zone " + r.Name
		}
	}
	return ""
}

// FiltersFromConfig builds the provenance policy and the spatial stages
func FiltersFromConfig(cfg config.FiltersConfig) (*ProvenancePolicy, []PointFilter, error) {
	rules := make([]TrustRule, 0, len(cfg.TrustRules))
	for _, r := range cfg.TrustRules {
		rules = append(rules, TrustRule{
			Name:            r.Name,
			SpeciesKeywords: r.SpeciesKeywords,
			ExcludeKeywords: r.ExcludeKeywords,
			IDPatterns:      r.IDPatterns,
			Priority:        r.Priority,
		})
	}
	sources := make([]models.PointSource, 0, len(cfg.TrustedSources))
	for _, s := range cfg.TrustedSources {
		sources = append(sources, models.ParsePointSource(s))
	}
	policy := NewProvenancePolicy(rules, sources)

	var filters []PointFilter
	if cfg.Bounds != nil {
		b := cfg.Bounds
		filters = append(filters, BoundsFilter{Bound: geo.NewBound(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)})
	}
	if len(cfg.ExclusionZones) > 0 {
		regions := make([]*geo.Region, 0, len(cfg.ExclusionZones))
		for _, z := range cfg.ExclusionZones {
			r, err := geo.NewRegion(z.Name, z.Ring)
			if err != nil {
				return nil, nil, err
			}
			regions = append(regions, r)
		}
		filters = append(filters, ExclusionFilter{Regions: regions})
	}
	return policy, filters, nil
}
