package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// FarmerService is the farmer and crop registry.
type FarmerService struct {
	Store   models.Store
	Rollups *Rollups
	Logger  *logrus.Logger
}

func NewFarmerService(store models.Store, rollups *Rollups, logger *logrus.Logger) *FarmerService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &FarmerService{Store: store, Rollups: rollups, Logger: logger}
}

// CreateFarmer registers the caller as a farmer. One farmer per user.
func (s *FarmerService) CreateFarmer(ctx context.Context, input models.NewFarmer) (*models.Farmer, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ErrorUnauthorized
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.FarmSize.IsNegative() {
		return nil, fmt.Errorf("%w: farm size must not be negative", models.ErrInvalidInput)
	}
	phone, err := utils.NormalizePhoneNumber(input.Phone, utils.CountryCode)
	if err != nil {
		return nil, fmt.Errorf("%w: phone: %v", models.ErrInvalidInput, err)
	}
	if _, err := s.Store.GetFarmerByUser(ctx, userId); err == nil {
		return nil, fmt.Errorf("%w: user already has a farmer profile", models.ErrInvalidInput)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	farmer := &models.Farmer{
		UserId:                userId,
		Name:                  input.Name,
		Email:                 input.Email,
		Phone:                 phone,
		Location:              input.Location,
		FarmSize:              input.FarmSize,
		CooperativeId:         input.CooperativeId,
		TotalCarbonCredits:    decimal.Zero,
		VerifiedCarbonCredits: decimal.Zero,
		PendingCarbonCredits:  decimal.Zero,
	}
	if err := s.Store.CreateFarmer(ctx, farmer); err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"field":     "CreateFarmer",
		"farmer_id": farmer.ID,
		"user_id":   userId,
	}).Info("farmer registered")
	return farmer, nil
}

// GetFarmerProfile returns the caller's own farmer.
func (s *FarmerService) GetFarmerProfile(ctx context.Context) (*models.Farmer, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ErrorUnauthorized
	}
	return s.Store.GetFarmerByUser(ctx, userId)
}

// DeleteFarmer removes the farmer and its node memberships. Its evidence and
// credits are kept. A node that cannot be updated keeps the stale member until
// RecomputeNode runs; it never blocks the deletion.
func (s *FarmerService) DeleteFarmer(ctx context.Context, farmerId int) error {
	ctx, _, err := authorizeFarmer(ctx, s.Store, farmerId)
	if err != nil {
		return err
	}
	nodes, err := s.Store.ListMRVNodesByMember(ctx, farmerId)
	if err != nil {
		config.LogError(s.Logger, "farmerWorkflow.go", "DeleteFarmer", "ListMRVNodesByMember", farmerId, err)
	}
	for _, n := range nodes {
		if _, err := s.Rollups.mutateNode(ctx, n.ID, removeMember(n.ID, farmerId)); err != nil && !errors.Is(err, models.ErrNotFound) {
			config.LogError(s.Logger, "farmerWorkflow.go", "DeleteFarmer", fmt.Sprintf("leave node %d", n.ID), farmerId, err)
		}
	}
	return s.Store.DeleteFarmer(ctx, farmerId)
}

func (s *FarmerService) CreateCrop(ctx context.Context, farmerId int, input models.NewCrop) (*models.Crop, error) {
	ctx, _, err := authorizeFarmer(ctx, s.Store, farmerId)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Area.IsPositive() {
		return nil, fmt.Errorf("%w: crop area must be positive", models.ErrInvalidInput)
	}
	if input.ExpectedHarvestDate.Before(input.PlantingDate) {
		return nil, fmt.Errorf("%w: harvest date before planting date", models.ErrInvalidInput)
	}

	crop := &models.Crop{
		FarmerId:               farmerId,
		CropType:               input.CropType,
		Variety:                input.Variety,
		PlantingDate:           input.PlantingDate,
		ExpectedHarvestDate:    input.ExpectedHarvestDate,
		Area:                   input.Area,
		PracticeType:           input.PracticeType,
		Status:                 models.CropStatusPlanted,
		Location:               input.Location,
		EstimatedSequestration: SequestrationRate(input.PracticeType).Mul(input.Area),
		TreeCount:              input.TreeCount,
	}
	if err := s.Store.CreateCrop(ctx, crop); err != nil {
		return nil, err
	}
	return crop, nil
}

func (s *FarmerService) ListFarmerCrops(ctx context.Context, farmerId int) ([]models.Crop, error) {
	ctx, _, err := authorizeFarmer(ctx, s.Store, farmerId)
	if err != nil {
		return nil, err
	}
	return s.Store.ListCropsByFarmer(ctx, farmerId)
}

func (s *FarmerService) UpdateCropStatus(ctx context.Context, cropId int, status models.CropStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown crop status %q", models.ErrInvalidInput, status)
	}
	crop, err := s.Store.GetCrop(systemContext(ctx), cropId)
	if err != nil {
		return err
	}
	ctx, _, err = authorizeFarmer(ctx, s.Store, crop.FarmerId)
	if err != nil {
		return err
	}
	return s.Store.UpdateCropStatus(ctx, cropId, status)
}

type CropStats struct {
	TotalCrops         int                        `json:"total_crops"`
	TotalArea          decimal.Decimal            `json:"total_area"`
	TotalSequestration decimal.Decimal            `json:"total_sequestration"`
	PracticeBreakdown  map[string]decimal.Decimal `json:"practice_breakdown"`
	StatusBreakdown    map[string]int             `json:"status_breakdown"`
}

// ComputeCropStats breaks the farmer's area down by practice and counts crops by status.
func ComputeCropStats(crops []models.Crop) CropStats {
	stats := CropStats{
		TotalCrops:         len(crops),
		TotalArea:          decimal.Zero,
		TotalSequestration: decimal.Zero,
		PracticeBreakdown:  map[string]decimal.Decimal{},
		StatusBreakdown:    map[string]int{},
	}
	for _, c := range crops {
		stats.TotalArea = stats.TotalArea.Add(c.Area)
		stats.TotalSequestration = stats.TotalSequestration.Add(c.EstimatedSequestration)
		practice := string(c.PracticeType)
		if v, ok := stats.PracticeBreakdown[practice]; ok {
			stats.PracticeBreakdown[practice] = v.Add(c.Area)
		} else {
			stats.PracticeBreakdown[practice] = c.Area
		}
		stats.StatusBreakdown[string(c.Status)]++
	}
	return stats
}

func (s *FarmerService) CropStats(ctx context.Context, farmerId int) (CropStats, error) {
	crops, err := s.ListFarmerCrops(ctx, farmerId)
	if err != nil {
		return CropStats{}, err
	}
	return ComputeCropStats(crops), nil
}
