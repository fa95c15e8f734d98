package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/treehealth/ndvi-monitor/internal/models"
)

const periodLayout = "2006-01"

// AlertCollection renders alerts as point features for map clients
func AlertCollection(alerts []models.Alert) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, a := range alerts {
		f := geojson.NewFeature(orb.Point{a.Lon, a.Lat})
		f.Properties["id"] = a.PointID
		f.Properties["tree_id"] = a.TreeID
		f.Properties["species"] = a.Species
		f.Properties["period"] = a.PeriodMonth.Format(periodLayout)
		f.Properties["ndvi_diff"] = a.NDVIDiff
		f.Properties["severity"] = string(a.Severity)
		fc.Append(f)
	}
	return fc
}

// PointCollection renders points with their most recent sample, if any
func PointCollection(points []models.TreePoint, latest map[uint]models.NDVISample) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(orb.Point{p.Lon, p.Lat})
		f.Properties["id"] = p.ID
		f.Properties["tree_id"] = p.ExternalID()
		f.Properties["species"] = p.Species
		f.Properties["period"] = nil
		f.Properties["ndvi"] = nil
		f.Properties["ndvi_prev_year"] = nil
		f.Properties["ndvi_diff"] = nil
		if s, ok := latest[p.ID]; ok {
			f.Properties["period"] = s.PeriodMonth.Format(periodLayout)
			f.Properties["ndvi"] = s.NDVI
			f.Properties["ndvi_prev_year"] = s.NDVIPrevYear
			f.Properties["ndvi_diff"] = s.NDVIDiff
		}
		fc.Append(f)
	}
	return fc
}
