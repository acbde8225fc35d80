package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AIAnalysis is the analysis payload written by the analysis task.
// It is zeroed (confidence 0, not compliant, no findings) at submission.
type AIAnalysis struct {
	Confidence      int                         `gorm:"not null;default:0" json:"confidence"`
	Compliance      bool                        `gorm:"not null;default:false" json:"compliance"`
	Findings        datatypes.JSONSlice[string] `gorm:"type:json" json:"findings"`
	Recommendations datatypes.JSONSlice[string] `gorm:"type:json" json:"recommendations,omitempty"`
	CarbonImpact    *decimal.Decimal            `gorm:"type:decimal(20,4)" json:"carbon_impact,omitempty"`
}

type SatelliteData struct {
	Ndvi            *float64   `json:"ndvi,omitempty"`
	SoilMoisture    *float64   `json:"soil_moisture,omitempty"`
	Biomass         *float64   `json:"biomass,omitempty"`
	AcquisitionDate *time.Time `json:"acquisition_date,omitempty"`
}

func (s SatelliteData) IsEmpty() bool {
	return s.Ndvi == nil && s.SoilMoisture == nil && s.Biomass == nil && s.AcquisitionDate == nil
}

// VerificationRecord is one piece of submitted evidence.
// Records are never deleted; they back the credits issued from them.
type VerificationRecord struct {
	ID               int                `gorm:"primary_key" json:"id"`
	FarmerId         int                `gorm:"index;not null" json:"farmer_id"`
	CropId           *int               `gorm:"index" json:"crop_id,omitempty"`
	PracticeType     PracticeType       `gorm:"size:30;not null;index" json:"practice_type"`
	VerificationType VerificationType   `gorm:"size:30;not null" json:"verification_type"`
	ImageRef         string             `gorm:"size:255;not null" json:"image_ref"`
	Location         GeoPoint           `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	Timestamp        time.Time          `gorm:"not null;index" json:"timestamp"`
	Analysis         AIAnalysis         `gorm:"embedded;embeddedPrefix:analysis_" json:"ai_analysis"`
	SatelliteData    SatelliteData      `gorm:"embedded;embeddedPrefix:satellite_" json:"satellite_data"`
	Status           VerificationStatus `gorm:"size:20;not null;index" json:"status"`
	Notes            string             `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	// resolved on read, not stored
	ImageURL string `gorm:"-" json:"image_url,omitempty"`
}

// AnalysisPatch is applied to a record in one write: analysis and status together.
type AnalysisPatch struct {
	Analysis AIAnalysis
	Status   VerificationStatus

	// when set, the patch is skipped with ErrAlreadyResolved unless the record is still in this status
	ExpectStatus VerificationStatus
}
