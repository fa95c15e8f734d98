// Package geo holds the spatial pieces of the point filters and the GeoJSON
// surfaces: inclusive lon/lat bounds, exclusion polygons and feature builders.
package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Bound is an inclusive lon/lat rectangle
type Bound struct {
	b orb.Bound
}

func NewBound(minLon, minLat, maxLon, maxLat float64) Bound {
	return Bound{b: orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}}
}

// Contains reports whether the point lies inside or on the edge of the bound
func (b Bound) Contains(lon, lat float64) bool {
	return b.b.Contains(orb.Point{lon, lat})
}

func (b Bound) String() string {
	return fmt.Sprintf("[%g,%g]-[%g,%g]", b.b.Min[0], b.b.Min[1], b.b.Max[0], b.b.Max[1])
}

// Region is a named polygon, used for water bodies and other excluded areas
type Region struct {
	Name    string
	polygon orb.Polygon
	bound   orb.Bound
}

// NewRegion builds a region from [lon, lat] vertices. Open rings are closed.
func NewRegion(name string, vertices [][2]float64) (*Region, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("region %q needs at least 3 vertices, got %d", name, len(vertices))
	}

	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, orb.Point{v[0], v[1]})
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	if len(ring) < 4 {
		return nil, fmt.Errorf("region %q is degenerate", name)
	}

	polygon := orb.Polygon{ring}
	return &Region{Name: name, polygon: polygon, bound: polygon.Bound()}, nil
}

// Contains reports whether the point is inside the region; edges count as inside
func (r *Region) Contains(lon, lat float64) bool {
	p := orb.Point{lon, lat}
	if !r.bound.Contains(p) {
		return false
	}
	return planar.PolygonContains(r.polygon, p)
}
