package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var defaultNodeSensors = []string{string(models.SensorTypeSoilMoisture), string(models.SensorTypeTemperature)}

// CommunityService manages MRV nodes. All totals go through Rollups.
type CommunityService struct {
	Store   models.Store
	Rollups *Rollups
	Logger  *logrus.Logger
}

func NewCommunityService(store models.Store, rollups *Rollups, logger *logrus.Logger) *CommunityService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &CommunityService{Store: store, Rollups: rollups, Logger: logger}
}

// CreateNode makes the caller the coordinator and their farmer the first member.
func (s *CommunityService) CreateNode(ctx context.Context, input models.NewMRVNode) (*models.MRVNode, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, models.ErrOwnership
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.NodeType.IsValid() {
		return nil, fmt.Errorf("%w: unknown node type %q", models.ErrInvalidInput, input.NodeType)
	}
	farmer, err := s.Store.GetFarmerByUser(ctx, userId)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrOwnership
		}
		return nil, err
	}

	node := &models.MRVNode{
		Name:          input.Name,
		NodeType:      input.NodeType,
		Location:      input.Location,
		CoordinatorId: userId,
		MemberFarmers: []int{farmer.ID},
		CooperativeId: farmer.CooperativeId,
		IsActive:      true,
		TotalArea:     farmer.FarmSize,
		LastUpdated:   time.Now().UTC(),
		Equipment: models.NodeEquipment{
			Sensors:              append([]string(nil), defaultNodeSensors...),
			Drones:               1,
			WeatherStations:      1,
			InternetConnectivity: "good",
		},
	}
	if err := s.Store.CreateMRVNode(ctx, node); err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"field":     "CreateNode",
		"node_id":   node.ID,
		"farmer_id": farmer.ID,
	}).Info("mrv node created")
	// pick up credits the coordinator already holds
	return s.Rollups.RecomputeNode(ctx, node.ID)
}

func (s *CommunityService) JoinNode(ctx context.Context, nodeId, farmerId int) (*models.MRVNode, error) {
	if _, _, err := authorizeFarmer(ctx, s.Store, farmerId); err != nil {
		return nil, err
	}
	return s.Rollups.mutateNode(ctx, nodeId, func(n *models.MRVNode) error {
		if !n.IsActive {
			return fmt.Errorf("%w: node %d is not active", models.ErrInvalidInput, nodeId)
		}
		if n.HasMember(farmerId) {
			return models.ErrAlreadyMember
		}
		n.MemberFarmers = append(n.MemberFarmers, farmerId)
		return nil
	})
}

func (s *CommunityService) LeaveNode(ctx context.Context, nodeId, farmerId int) (*models.MRVNode, error) {
	if _, _, err := authorizeFarmer(ctx, s.Store, farmerId); err != nil {
		return nil, err
	}
	return s.Rollups.mutateNode(ctx, nodeId, removeMember(nodeId, farmerId))
}

// RemoveFarmer lets the node coordinator drop a member.
func (s *CommunityService) RemoveFarmer(ctx context.Context, nodeId, farmerId int) (*models.MRVNode, error) {
	if err := s.authorizeCoordinator(ctx, nodeId); err != nil {
		return nil, err
	}
	return s.Rollups.mutateNode(ctx, nodeId, removeMember(nodeId, farmerId))
}

// RecomputeNode rebuilds the node totals from its members. Coordinator or admin.
func (s *CommunityService) RecomputeNode(ctx context.Context, nodeId int) (*models.MRVNode, error) {
	if err := s.authorizeCoordinator(ctx, nodeId); err != nil {
		return nil, err
	}
	return s.Rollups.RecomputeNode(ctx, nodeId)
}

// GetFarmerNode returns the first node the farmer belongs to.
func (s *CommunityService) GetFarmerNode(ctx context.Context, farmerId int) (*models.MRVNode, error) {
	ctx, _, err := authorizeFarmer(ctx, s.Store, farmerId)
	if err != nil {
		return nil, err
	}
	nodes, err := s.Store.ListMRVNodesByMember(ctx, farmerId)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("mrv node for farmer %d: %w", farmerId, models.ErrNotFound)
	}
	return &nodes[0], nil
}

func (s *CommunityService) ListActiveNodes(ctx context.Context) ([]models.MRVNode, error) {
	return s.Store.ListActiveMRVNodes(ctx)
}

// CommunityStats sums members, area and credits over the active nodes.
func (s *CommunityService) CommunityStats(ctx context.Context) (models.CommunityStats, error) {
	stats := models.CommunityStats{TotalArea: decimal.Zero, TotalCredits: decimal.Zero}
	nodes, err := s.Store.ListActiveMRVNodes(ctx)
	if err != nil {
		return stats, err
	}
	if len(nodes) == 0 {
		return stats, nil
	}
	confidence := 0.0
	for _, n := range nodes {
		stats.TotalFarmers += len(n.MemberFarmers)
		stats.TotalArea = stats.TotalArea.Add(n.TotalArea)
		stats.TotalCredits = stats.TotalCredits.Add(n.TotalCarbonCredits)
		confidence += n.ConfidenceScore
	}
	stats.AvgConfidence = confidence / float64(len(nodes))
	return stats, nil
}

func (s *CommunityService) authorizeCoordinator(ctx context.Context, nodeId int) error {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return models.ErrOwnership
	}
	if role, _ := utils.GetUserRoleFromContext(ctx); role == RoleAdmin {
		return nil
	}
	node, err := s.Store.GetMRVNode(ctx, nodeId)
	if err != nil {
		return err
	}
	if node.CoordinatorId != userId {
		return models.ErrOwnership
	}
	return nil
}

func removeMember(nodeId, farmerId int) func(*models.MRVNode) error {
	return func(n *models.MRVNode) error {
		if !n.HasMember(farmerId) {
			return fmt.Errorf("farmer %d in node %d: %w", farmerId, nodeId, models.ErrNotFound)
		}
		members := make([]int, 0, len(n.MemberFarmers)-1)
		for _, id := range n.MemberFarmers {
			if id != farmerId {
				members = append(members, id)
			}
		}
		n.MemberFarmers = members
		return nil
	}
}
