package models

import "time"

// Severity classifies how far a decline falls below the alert threshold
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// ClassifySeverity returns high when diff is below twice the (negative) threshold
func ClassifySeverity(diff, threshold float64) Severity {
	if diff < threshold*2 {
		return SeverityHigh
	}
	return SeverityMedium
}

// Alert is a tree point whose year-over-year NDVI change crossed the threshold
type Alert struct {
	PointID      uint      `json:"point_id"`
	TreeID       string    `json:"tree_id,omitempty"`
	Species      string    `json:"species,omitempty"`
	Lon          float64   `json:"lon"`
	Lat          float64   `json:"lat"`
	PeriodMonth  time.Time `json:"period_month"`
	NDVI         *float64  `json:"ndvi"`
	NDVIPrevYear *float64  `json:"ndvi_prev_year"`
	NDVIDiff     float64   `json:"ndvi_diff"`
	Severity     Severity  `json:"severity"`
}

// NewAlert builds an alert from a sample and its owning point.
// The sample must carry a diff.
func NewAlert(point *TreePoint, sample *NDVISample, threshold float64) Alert {
	diff := *sample.NDVIDiff
	return Alert{
		PointID:      point.ID,
		TreeID:       point.ExternalID(),
		Species:      point.Species,
		Lon:          point.Lon,
		Lat:          point.Lat,
		PeriodMonth:  sample.PeriodMonth,
		NDVI:         sample.NDVI,
		NDVIPrevYear: sample.NDVIPrevYear,
		NDVIDiff:     diff,
		Severity:     ClassifySeverity(diff, threshold),
	}
}
