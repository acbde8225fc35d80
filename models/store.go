package models

import (
	"context"
	"time"
)

// VerificationQuery selects one farmer's records. Zero-valued filters are ignored.
type VerificationQuery struct {
	FarmerId     int
	PracticeType PracticeType
	Status       VerificationStatus
	From         time.Time
	To           time.Time
}

func (q VerificationQuery) Matches(r *VerificationRecord) bool {
	if r.FarmerId != q.FarmerId {
		return false
	}
	if q.PracticeType != "" && r.PracticeType != q.PracticeType {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if !q.From.IsZero() && r.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.Timestamp.After(q.To) {
		return false
	}
	return true
}

type SensorQuery struct {
	FarmerId   int
	SensorType SensorType
	Since      time.Time
	Limit      int
}

// Store is the evidence store: keyed records, owner and status indexes and
// atomic single-record patches. Every Get returns ErrNotFound for a missing id.
//
// The fn passed to an Update...With method runs while the row is locked and
// must not call back into the Store.
type Store interface {
	CreateFarmer(ctx context.Context, farmer *Farmer) error
	GetFarmer(ctx context.Context, id int) (*Farmer, error)
	GetFarmerByUser(ctx context.Context, userId int) (*Farmer, error)
	ListFarmerIds(ctx context.Context) ([]int, error)
	UpdateFarmerCredits(ctx context.Context, farmerId int, totals FarmerCreditTotals) error
	DeleteFarmer(ctx context.Context, id int) error

	CreateCrop(ctx context.Context, crop *Crop) error
	GetCrop(ctx context.Context, id int) (*Crop, error)
	ListCropsByFarmer(ctx context.Context, farmerId int) ([]Crop, error)
	UpdateCropStatus(ctx context.Context, id int, status CropStatus) error

	CreateVerificationRecord(ctx context.Context, record *VerificationRecord) error
	GetVerificationRecord(ctx context.Context, id int) (*VerificationRecord, error)
	PatchVerificationAnalysis(ctx context.Context, id int, patch AnalysisPatch) error
	ListVerificationRecords(ctx context.Context, q VerificationQuery) ([]VerificationRecord, error)
	ListVerificationRecordsByStatus(ctx context.Context, status VerificationStatus, olderThan time.Time, limit int) ([]VerificationRecord, error)

	CreateCarbonCredits(ctx context.Context, credits []*CarbonCredit) error
	GetCarbonCredit(ctx context.Context, id int) (*CarbonCredit, error)
	UpdateCarbonCreditWith(ctx context.Context, id int, fn func(*CarbonCredit) error) (*CarbonCredit, error)
	ListCarbonCreditsByFarmers(ctx context.Context, farmerIds []int) ([]CarbonCredit, error)

	CreateComplianceReport(ctx context.Context, report *ComplianceReport) error
	GetComplianceReport(ctx context.Context, id int) (*ComplianceReport, error)
	ListComplianceReports(ctx context.Context, farmerId int, practiceType PracticeType) ([]ComplianceReport, error)

	CreateMRVNode(ctx context.Context, node *MRVNode) error
	GetMRVNode(ctx context.Context, id int) (*MRVNode, error)
	UpdateMRVNodeWith(ctx context.Context, id int, fn func(*MRVNode) error) (*MRVNode, error)
	ListMRVNodesByMember(ctx context.Context, farmerId int) ([]MRVNode, error)
	ListActiveMRVNodes(ctx context.Context) ([]MRVNode, error)

	CreateSensorReading(ctx context.Context, reading *SensorReading) error
	ListSensorReadings(ctx context.Context, q SensorQuery) ([]SensorReading, error)
}
