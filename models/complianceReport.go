package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ComplianceBreakdown struct {
	CropStages           float64 `gorm:"not null;default:0" json:"crop_stages"`
	FertilizerCompliance float64 `gorm:"not null;default:0" json:"fertilizer_compliance"`
	IrrigationCompliance float64 `gorm:"not null;default:0" json:"irrigation_compliance"`
	HarvestCompliance    float64 `gorm:"not null;default:0" json:"harvest_compliance"`
}

type CarbonMetrics struct {
	TotalSequestration decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_sequestration"`
	MethaneReduction   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"methane_reduction"`
	CreditsGenerated   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credits_generated"`
	CreditsVerified    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credits_verified"`
	EstimatedEarnings  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"estimated_earnings"`
}

// ComplianceReport is immutable once generated; a newer report supersedes it.
type ComplianceReport struct {
	ID                    int                 `gorm:"primary_key" json:"id"`
	FarmerId              int                 `gorm:"index;not null" json:"farmer_id"`
	ReportPeriod          Period              `gorm:"embedded;embeddedPrefix:period_" json:"report_period"`
	PracticeType          PracticeType        `gorm:"size:30;not null;index" json:"practice_type"`
	OverallCompliance     float64             `gorm:"not null;default:0" json:"overall_compliance"`
	VerificationCount     int                 `gorm:"not null;default:0" json:"verification_count"`
	PassedVerifications   int                 `gorm:"not null;default:0" json:"passed_verifications"`
	CertificationEligible bool                `gorm:"not null;default:false" json:"certification_eligible"`
	ReportData            ComplianceBreakdown `gorm:"embedded;embeddedPrefix:report_" json:"report_data"`
	CarbonMetrics         CarbonMetrics       `gorm:"embedded;embeddedPrefix:carbon_" json:"carbon_metrics"`
	GeneratedAt           time.Time           `gorm:"not null" json:"generated_at"`
}

// ComplianceStats summarizes stored reports, optionally for one practice type.
type ComplianceStats struct {
	TotalFarmers          int     `json:"total_farmers"`
	AverageCompliance     float64 `json:"average_compliance"`
	CertificationEligible int     `json:"certification_eligible"`
	TotalVerifications    int     `json:"total_verifications"`
}
