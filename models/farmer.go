package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GeoPoint struct {
	Latitude  float64 `gorm:"not null;default:0" json:"latitude" binding:"required"`
	Longitude float64 `gorm:"not null;default:0" json:"longitude" binding:"required"`
}

type Address struct {
	Latitude  float64 `gorm:"not null;default:0" json:"latitude"`
	Longitude float64 `gorm:"not null;default:0" json:"longitude"`
	Address   string  `gorm:"size:255" json:"address,omitempty"`
}

// Farmer is the owning entity of every verification record and credit.
// The carbon credit totals are recomputed from the farmer's credit set.
type Farmer struct {
	ID            int             `gorm:"primary_key" json:"id"`
	UserId        int             `gorm:"uniqueIndex;not null" json:"user_id"`
	Name          string          `gorm:"size:100;not null" json:"name"`
	Email         string          `gorm:"size:100" json:"email,omitempty"`
	Phone         string          `gorm:"size:30" json:"phone,omitempty"`
	Location      Address         `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	FarmSize      decimal.Decimal `gorm:"type:decimal(12,4);not null;default:0" json:"farm_size"`
	CooperativeId *int            `gorm:"index" json:"cooperative_id,omitempty"`
	WalletAddress string          `gorm:"size:100" json:"carbon_wallet_address,omitempty"`

	TotalCarbonCredits    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_carbon_credits"`
	VerifiedCarbonCredits decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"verified_carbon_credits"`
	PendingCarbonCredits  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_carbon_credits"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewFarmer struct {
	Name          string          `json:"name" validate:"required,max=100"`
	Email         string          `json:"email" validate:"omitempty,email"`
	Phone         string          `json:"phone"`
	Location      Address         `json:"location"`
	FarmSize      decimal.Decimal `json:"farm_size"`
	CooperativeId *int            `json:"cooperative_id"`
}

// FarmerCreditTotals is the recomputed rollup written back onto a farmer.
type FarmerCreditTotals struct {
	Total    decimal.Decimal
	Verified decimal.Decimal
	Pending  decimal.Decimal
}
