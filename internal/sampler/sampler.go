// Package sampler is the client side of the remote vegetation-index sampling
// service. The service receives tree points and a month and answers with one
// optional NDVI value per point.
package sampler

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Point is a location to sample
type Point struct {
	ID         uint    `json:"id"`
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	ExternalID string  `json:"tree_id,omitempty"`
}

// Result is the reading for one point. A nil Value means no usable imagery.
type Result struct {
	PointID    string
	ExternalID string
	Value      *float64
	CloudCover *float64
	PixelCount *int
}

// Sampler samples NDVI for points over a calendar month. An empty result slice
// is a valid answer meaning no imagery was available.
type Sampler interface {
	Sample(ctx context.Context, points []Point, period time.Time) ([]Result, error)
}

// PeriodLayout is the month format sent on the wire
const PeriodLayout = "2006-01"

type sampleRequest struct {
	Period string  `json:"period"`
	Points []Point `json:"points"`
}

type sampleResponse struct {
	Results []wireResult `json:"results"`
}

type wireResult struct {
	ID         json.RawMessage `json:"id"`
	TreeID     json.RawMessage `json:"tree_id"`
	NDVI       json.RawMessage `json:"ndvi"`
	CloudCover json.RawMessage `json:"cloud_cover"`
	PixelCount json.RawMessage `json:"pixel_count"`
}

func (w wireResult) toResult() Result {
	r := Result{
		PointID:    coerceString(w.ID),
		ExternalID: coerceString(w.TreeID),
		Value:      CoerceFloat(w.NDVI),
		CloudCover: CoerceFloat(w.CloudCover),
	}
	if v := CoerceFloat(w.PixelCount); v != nil {
		n := int(*v)
		r.PixelCount = &n
	}
	return r
}

// CoerceFloat accepts a JSON number or numeric string. null, "", "NaN",
// infinities and anything unparsable become nil.
func CoerceFloat(raw json.RawMessage) *float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func coerceString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		return strings.TrimSpace(unquoted)
	}
	// numbers keep their literal form; 12.0 and 12 both mean point 12
	if v, err := strconv.ParseFloat(s, 64); err == nil && v == math.Trunc(v) && v >= 0 {
		return strconv.FormatUint(uint64(v), 10)
	}
	return s
}

// Func adapts a plain function to the Sampler interface
type Func func(ctx context.Context, points []Point, period time.Time) ([]Result, error)

func (f Func) Sample(ctx context.Context, points []Point, period time.Time) ([]Result, error) {
	return f(ctx, points, period)
}
