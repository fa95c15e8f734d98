package models

import (
	"math"
	"time"
)

// NDVISample holds one month of vegetation index readings for a tree point.
// (TreePointID, PeriodMonth) is unique.
type NDVISample struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TreePointID  uint      `gorm:"not null;uniqueIndex:idx_tree_period,priority:1" json:"tree_point_id"`
	PeriodMonth  time.Time `gorm:"type:date;not null;uniqueIndex:idx_tree_period,priority:2;index" json:"period_month"`
	NDVI         *float64  `gorm:"column:ndvi" json:"ndvi"`
	NDVIPrevYear *float64  `gorm:"column:ndvi_prev_year" json:"ndvi_prev_year"`
	NDVIDiff     *float64  `gorm:"column:ndvi_diff;index" json:"ndvi_diff"`
	CloudCover   *float64  `json:"cloud_cover,omitempty"`
	PixelCount   *int      `json:"pixel_count,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	TreePoint *TreePoint `gorm:"foreignKey:TreePointID" json:"-"`
}

func (NDVISample) TableName() string {
	return "ndvi_samples"
}

// SampleKey identifies the single row allowed per point and month
type SampleKey struct {
	PointID uint
	Month   time.Time
}

// Key returns the upsert key of the sample
func (s *NDVISample) Key() SampleKey {
	return SampleKey{PointID: s.TreePointID, Month: FirstOfMonth(s.PeriodMonth)}
}

// Less orders keys by point then month
func (k SampleKey) Less(o SampleKey) bool {
	if k.PointID != o.PointID {
		return k.PointID < o.PointID
	}
	return k.Month.Before(o.Month)
}

// NewSample builds a sample for the month containing period, deriving the diff
func NewSample(pointID uint, period time.Time, current, prior *float64) *NDVISample {
	current, prior = SanitizeValue(current), SanitizeValue(prior)
	return &NDVISample{
		TreePointID:  pointID,
		PeriodMonth:  FirstOfMonth(period),
		NDVI:         current,
		NDVIPrevYear: prior,
		NDVIDiff:     ComputeDiff(current, prior),
	}
}

// ComputeDiff returns current - prior, or nil if either is absent
func ComputeDiff(current, prior *float64) *float64 {
	if current == nil || prior == nil {
		return nil
	}
	d := *current - *prior
	return &d
}

// SanitizeValue drops NaN and infinite readings
func SanitizeValue(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := *v
	return &out
}

// Float64Ptr is a convenience for building optional values
func Float64Ptr(v float64) *float64 {
	return &v
}
