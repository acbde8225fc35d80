package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the MySQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// CreateFarmer relies on the unique user_id index to reject a second profile
// created concurrently for the same user.
func (s *GormStore) CreateFarmer(ctx context.Context, farmer *Farmer) error {
	err := s.db.WithContext(ctx).Create(farmer).Error
	if isDuplicateKeyErr(err) {
		return fmt.Errorf("%w: user %d already has a farmer profile", ErrInvalidInput, farmer.UserId)
	}
	return err
}

func (s *GormStore) GetFarmer(ctx context.Context, id int) (*Farmer, error) {
	var farmer Farmer
	if err := s.db.WithContext(ctx).First(&farmer, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &farmer, nil
}

func (s *GormStore) GetFarmerByUser(ctx context.Context, userId int) (*Farmer, error) {
	var farmer Farmer
	if err := s.db.WithContext(ctx).Where("user_id = ?", userId).First(&farmer).Error; err != nil {
		return nil, notFound(err)
	}
	return &farmer, nil
}

func (s *GormStore) ListFarmerIds(ctx context.Context) ([]int, error) {
	var ids []int
	err := s.db.WithContext(ctx).Model(&Farmer{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *GormStore) UpdateFarmerCredits(ctx context.Context, farmerId int, totals FarmerCreditTotals) error {
	result := s.db.WithContext(ctx).Model(&Farmer{}).Where("id = ?", farmerId).Updates(map[string]interface{}{
		"total_carbon_credits":    totals.Total,
		"verified_carbon_credits": totals.Verified,
		"pending_carbon_credits":  totals.Pending,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFarmer removes the farmer row only; evidence and credits are retained.
func (s *GormStore) DeleteFarmer(ctx context.Context, id int) error {
	result := s.db.WithContext(ctx).Delete(&Farmer{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateCrop(ctx context.Context, crop *Crop) error {
	return s.db.WithContext(ctx).Create(crop).Error
}

func (s *GormStore) GetCrop(ctx context.Context, id int) (*Crop, error) {
	var crop Crop
	if err := s.db.WithContext(ctx).First(&crop, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &crop, nil
}

func (s *GormStore) ListCropsByFarmer(ctx context.Context, farmerId int) ([]Crop, error) {
	var crops []Crop
	err := s.db.WithContext(ctx).Where("farmer_id = ?", farmerId).Order("id").Find(&crops).Error
	return crops, err
}

func (s *GormStore) UpdateCropStatus(ctx context.Context, id int, status CropStatus) error {
	result := s.db.WithContext(ctx).Model(&Crop{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateVerificationRecord(ctx context.Context, record *VerificationRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

func (s *GormStore) GetVerificationRecord(ctx context.Context, id int) (*VerificationRecord, error) {
	var record VerificationRecord
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &record, nil
}

// PatchVerificationAnalysis writes the analysis payload and status in one UPDATE.
// With ExpectStatus set the UPDATE only matches a record still in that status.
func (s *GormStore) PatchVerificationAnalysis(ctx context.Context, id int, patch AnalysisPatch) error {
	tx := s.db.WithContext(ctx).Model(&VerificationRecord{}).Where("id = ?", id)
	if patch.ExpectStatus != "" {
		tx = tx.Where("status = ?", patch.ExpectStatus)
	}
	result := tx.Select("analysis_confidence", "analysis_compliance", "analysis_findings",
		"analysis_recommendations", "analysis_carbon_impact", "status", "updated_at").
		Updates(&VerificationRecord{Analysis: patch.Analysis, Status: patch.Status})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// MySQL counts changed rows, so 0 can also mean the values were identical.
	var current VerificationRecord
	if err := s.db.WithContext(ctx).Select("id", "status").First(&current, id).Error; err != nil {
		return notFound(err)
	}
	if patch.ExpectStatus != "" && current.Status != patch.ExpectStatus {
		return ErrAlreadyResolved
	}
	return nil
}

func (s *GormStore) ListVerificationRecords(ctx context.Context, q VerificationQuery) ([]VerificationRecord, error) {
	tx := s.db.WithContext(ctx).Where("farmer_id = ?", q.FarmerId)
	if q.PracticeType != "" {
		tx = tx.Where("practice_type = ?", q.PracticeType)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if !q.From.IsZero() {
		tx = tx.Where("timestamp >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("timestamp <= ?", q.To)
	}
	var records []VerificationRecord
	err := tx.Order("timestamp DESC, id DESC").Find(&records).Error
	return records, err
}

func (s *GormStore) ListVerificationRecordsByStatus(ctx context.Context, status VerificationStatus, olderThan time.Time, limit int) ([]VerificationRecord, error) {
	tx := s.db.WithContext(ctx).Where("status = ?", status)
	if !olderThan.IsZero() {
		tx = tx.Where("created_at < ?", olderThan)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var records []VerificationRecord
	err := tx.Order("id").Find(&records).Error
	return records, err
}

func (s *GormStore) CreateCarbonCredits(ctx context.Context, credits []*CarbonCredit) error {
	if len(credits) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(credits).Error
	})
}

func (s *GormStore) GetCarbonCredit(ctx context.Context, id int) (*CarbonCredit, error) {
	var credit CarbonCredit
	if err := s.db.WithContext(ctx).First(&credit, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &credit, nil
}

func (s *GormStore) UpdateCarbonCreditWith(ctx context.Context, id int, fn func(*CarbonCredit) error) (*CarbonCredit, error) {
	var credit CarbonCredit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&credit, id).Error; err != nil {
			return notFound(err)
		}
		if err := fn(&credit); err != nil {
			return err
		}
		return tx.Save(&credit).Error
	})
	if err != nil {
		return nil, err
	}
	return &credit, nil
}

func (s *GormStore) ListCarbonCreditsByFarmers(ctx context.Context, farmerIds []int) ([]CarbonCredit, error) {
	if len(farmerIds) == 0 {
		return nil, nil
	}
	var credits []CarbonCredit
	err := s.db.WithContext(ctx).Where("farmer_id IN ?", farmerIds).Order("id").Find(&credits).Error
	return credits, err
}

func (s *GormStore) CreateComplianceReport(ctx context.Context, report *ComplianceReport) error {
	return s.db.WithContext(ctx).Create(report).Error
}

func (s *GormStore) GetComplianceReport(ctx context.Context, id int) (*ComplianceReport, error) {
	var report ComplianceReport
	if err := s.db.WithContext(ctx).First(&report, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &report, nil
}

// ListComplianceReports filters by farmer and practice type when non-zero, newest first.
func (s *GormStore) ListComplianceReports(ctx context.Context, farmerId int, practiceType PracticeType) ([]ComplianceReport, error) {
	tx := s.db.WithContext(ctx)
	if farmerId > 0 {
		tx = tx.Where("farmer_id = ?", farmerId)
	}
	if practiceType != "" {
		tx = tx.Where("practice_type = ?", practiceType)
	}
	var reports []ComplianceReport
	err := tx.Order("generated_at DESC, id DESC").Find(&reports).Error
	return reports, err
}

func (s *GormStore) CreateMRVNode(ctx context.Context, node *MRVNode) error {
	return s.db.WithContext(ctx).Create(node).Error
}

func (s *GormStore) GetMRVNode(ctx context.Context, id int) (*MRVNode, error) {
	var node MRVNode
	if err := s.db.WithContext(ctx).First(&node, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &node, nil
}

func (s *GormStore) UpdateMRVNodeWith(ctx context.Context, id int, fn func(*MRVNode) error) (*MRVNode, error) {
	var node MRVNode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&node, id).Error; err != nil {
			return notFound(err)
		}
		if err := fn(&node); err != nil {
			return err
		}
		return tx.Save(&node).Error
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *GormStore) ListMRVNodesByMember(ctx context.Context, farmerId int) ([]MRVNode, error) {
	var nodes []MRVNode
	err := s.db.WithContext(ctx).
		Where("JSON_CONTAINS(member_farmers, ?)", farmerIdJSON(farmerId)).
		Order("id").Find(&nodes).Error
	return nodes, err
}

func (s *GormStore) ListActiveMRVNodes(ctx context.Context) ([]MRVNode, error) {
	var nodes []MRVNode
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&nodes).Error
	return nodes, err
}

func (s *GormStore) CreateSensorReading(ctx context.Context, reading *SensorReading) error {
	return s.db.WithContext(ctx).Create(reading).Error
}

func (s *GormStore) ListSensorReadings(ctx context.Context, q SensorQuery) ([]SensorReading, error) {
	tx := s.db.WithContext(ctx).Where("farmer_id = ?", q.FarmerId)
	if q.SensorType != "" {
		tx = tx.Where("sensor_type = ?", q.SensorType)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var readings []SensorReading
	err := tx.Order("timestamp DESC, id DESC").Find(&readings).Error
	return readings, err
}

func farmerIdJSON(farmerId int) string {
	return "[" + strconv.Itoa(farmerId) + "]"
}
