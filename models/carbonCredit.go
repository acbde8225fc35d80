package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Period struct {
	StartDate time.Time `gorm:"not null" json:"start_date"`
	EndDate   time.Time `gorm:"not null" json:"end_date"`
}

// Contains reports whether t falls inside [StartDate, EndDate].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}

// CarbonCredit is a claim of sequestered or avoided CO2e backed by evidence.
// Only the status (and settlement fields) change after creation.
type CarbonCredit struct {
	ID                 int                      `gorm:"primary_key" json:"id"`
	FarmerId           int                      `gorm:"index;not null" json:"farmer_id"`
	CooperativeId      *int                     `gorm:"index" json:"cooperative_id,omitempty"`
	CropId             *int                     `gorm:"index" json:"crop_id,omitempty"`
	CreditType         CreditType               `gorm:"size:30;not null;index" json:"credit_type"`
	Amount             decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"amount"`
	Status             CreditStatus             `gorm:"size:20;not null;index" json:"status"`
	VerificationPeriod Period                   `gorm:"embedded;embeddedPrefix:period_" json:"verification_period"`
	Methodology        string                   `gorm:"size:50;not null" json:"methodology"`
	ConfidenceScore    int                      `gorm:"not null;index" json:"confidence_score"`
	EstimatedValue     decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"estimated_value"`
	ActualValue        *decimal.Decimal         `gorm:"type:decimal(20,4)" json:"actual_value,omitempty"`
	LedgerTxRef        *string                  `gorm:"size:255" json:"ledger_tx_ref,omitempty"`
	IssuedAt           *time.Time               `json:"issued_at,omitempty"`
	TradedAt           *time.Time               `json:"traded_at,omitempty"`
	EvidenceRecords    datatypes.JSONSlice[int] `gorm:"type:json;not null" json:"evidence_records"`
	CreatedAt          time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditSettlement carries an external settlement event for a credit.
type CreditSettlement struct {
	Status      CreditStatus     `json:"status" validate:"required"`
	ActualValue *decimal.Decimal `json:"actual_value"`
	LedgerTxRef *string          `json:"ledger_tx_ref"`
}
