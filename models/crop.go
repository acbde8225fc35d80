package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Crop struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	FarmerId            int             `gorm:"index;not null" json:"farmer_id"`
	CropType            string          `gorm:"size:100;not null" json:"crop_type"`
	Variety             string          `gorm:"size:100" json:"variety,omitempty"`
	PlantingDate        time.Time       `json:"planting_date"`
	ExpectedHarvestDate time.Time       `json:"expected_harvest_date"`
	Area                decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"area"`
	PracticeType        PracticeType    `gorm:"size:30;not null;index" json:"practice_type"`
	Status              CropStatus      `gorm:"size:20;not null;index" json:"status"`
	Location            GeoPoint        `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	// tons CO2/year, rate x area at creation time
	EstimatedSequestration decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"estimated_carbon_sequestration"`
	TreeCount              *int            `json:"tree_count,omitempty"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewCrop struct {
	CropType            string          `json:"crop_type" validate:"required,max=100"`
	Variety             string          `json:"variety"`
	PlantingDate        time.Time       `json:"planting_date" validate:"required"`
	ExpectedHarvestDate time.Time       `json:"expected_harvest_date" validate:"required"`
	Area                decimal.Decimal `json:"area"`
	PracticeType        PracticeType    `json:"practice_type" validate:"required"`
	Location            GeoPoint        `json:"location"`
	TreeCount           *int            `json:"tree_count"`
}
