package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/errs"
	"gorm.io/datatypes"
)

// PointSource records where a tree point came from
type PointSource string

const (
	SourceManual        PointSource = "manual"
	SourceCSVImport     PointSource = "csv_import"
	SourceCitizenReport PointSource = "citizen_report"
	SourceOther         PointSource = "other"
)

// ParsePointSource maps free text onto a known source, defaulting to other
func ParsePointSource(s string) PointSource {
	switch PointSource(strings.ToLower(strings.TrimSpace(s))) {
	case SourceManual:
		return SourceManual
	case SourceCSVImport:
		return SourceCSVImport
	case SourceCitizenReport:
		return SourceCitizenReport
	case "":
		return SourceManual
	default:
		return SourceOther
	}
}

// TreePoint is a georeferenced tree tracked for vegetation health
type TreePoint struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	TreeID      *string        `gorm:"type:varchar(255);uniqueIndex" json:"tree_id,omitempty"`
	Species     string         `gorm:"type:varchar(255)" json:"species,omitempty"`
	Lon         float64        `gorm:"not null;index:idx_tree_points_coords,priority:1" json:"lon"`
	Lat         float64        `gorm:"not null;index:idx_tree_points_coords,priority:2" json:"lat"`
	Source      PointSource    `gorm:"type:varchar(50);not null;default:'manual';index" json:"source"`
	Description string         `gorm:"type:text" json:"description,omitempty"`
	Attributes  datatypes.JSON `json:"attributes,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`

	Samples []NDVISample `gorm:"foreignKey:TreePointID;constraint:OnDelete:CASCADE" json:"-"`
}

func (TreePoint) TableName() string {
	return "tree_points"
}

// Validate enforces the coordinate range invariant
func (p *TreePoint) Validate() error {
	return ValidateCoordinates(p.Lon, p.Lat)
}

// ExternalID returns the tree id or "" when absent
func (p *TreePoint) ExternalID() string {
	if p.TreeID == nil {
		return ""
	}
	return *p.TreeID
}

// SetAttributes stores extra columns as JSON; an empty map clears them
func (p *TreePoint) SetAttributes(attrs map[string]string) error {
	if len(attrs) == 0 {
		p.Attributes = nil
		return nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	p.Attributes = datatypes.JSON(data)
	return nil
}

// ValidateCoordinates checks longitude in [-180,180] and latitude in [-90,90]
func ValidateCoordinates(lon, lat float64) error {
	if lon != lon || lon < -180 || lon > 180 {
		return errs.Newf(errs.KindValidation, "longitude %v out of range [-180, 180]", lon)
	}
	if lat != lat || lat < -90 || lat > 90 {
		return errs.Newf(errs.KindValidation, "latitude %v out of range [-90, 90]", lat)
	}
	return nil
}

// StringPtr returns nil for blank strings
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
