package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/shopspring/decimal"
)

func seedCredit(t *testing.T, store models.Store, farmerId int, amount string, confidence int, status models.CreditStatus) {
	t.Helper()
	err := store.CreateCarbonCredits(context.Background(), []*models.CarbonCredit{{
		FarmerId:           farmerId,
		CreditType:         models.CreditTypeSequestration,
		Amount:             decimal.RequireFromString(amount),
		Status:             status,
		ConfidenceScore:    confidence,
		Methodology:        "VM0042",
		VerificationPeriod: models.Period{StartDate: time.Now().AddDate(0, 0, -30), EndDate: time.Now()},
	}})
	if err != nil {
		t.Fatalf("seed credit: %v", err)
	}
}

func TestCreateNodeDefaults(t *testing.T) {
	env := newTestEnv(nil)
	farmer := seedFarmer(t, env.store, 1, "4.5")

	node, err := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "Hill", NodeType: models.NodeTypeRegional})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if node.CoordinatorId != 1 || len(node.MemberFarmers) != 1 || node.MemberFarmers[0] != farmer.ID {
		t.Fatalf("unexpected membership %+v", node)
	}
	if !node.TotalArea.Equal(decimal.RequireFromString("4.5")) || !node.IsActive {
		t.Fatalf("unexpected node state %+v", node)
	}
	if node.Equipment.Drones != 1 || node.Equipment.WeatherStations != 1 || len(node.Equipment.Sensors) != 2 || node.Equipment.InternetConnectivity != "good" {
		t.Fatalf("unexpected equipment %+v", node.Equipment)
	}

	if _, err := env.community.CreateNode(userCtx(5), models.NewMRVNode{Name: "x", NodeType: models.NodeTypeCommunity}); !errors.Is(err, models.ErrOwnership) {
		t.Fatalf("a user without a farmer cannot coordinate, got %v", err)
	}
	if _, err := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "x", NodeType: "galaxy"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid node type, got %v", err)
	}
}

func TestJoinLeaveRecomputesFromMembers(t *testing.T) {
	env := newTestEnv(nil)
	a := seedFarmer(t, env.store, 1, "2")
	b := seedFarmer(t, env.store, 2, "3")
	seedCredit(t, env.store, a.ID, "5", 80, models.CreditStatusPending)
	seedCredit(t, env.store, a.ID, "1", 60, models.CreditStatusVerified)
	seedCredit(t, env.store, b.ID, "4", 90, models.CreditStatusIssued)

	node, err := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "Delta", NodeType: models.NodeTypeCommunity})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if !node.TotalCarbonCredits.Equal(decimal.NewFromInt(6)) || node.ConfidenceScore != 70 {
		t.Fatalf("unexpected single member rollup: %s / %v", node.TotalCarbonCredits, node.ConfidenceScore)
	}

	node, err = env.community.JoinNode(userCtx(2), node.ID, b.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !node.TotalCarbonCredits.Equal(decimal.NewFromInt(10)) || !node.VerifiedCarbonCredits.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected totals after join: %s / %s", node.TotalCarbonCredits, node.VerifiedCarbonCredits)
	}
	if node.ConfidenceScore != 80 || !node.TotalArea.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected rollup after join: %v / %s", node.ConfidenceScore, node.TotalArea)
	}
	if _, err := env.community.JoinNode(userCtx(2), node.ID, b.ID); !errors.Is(err, models.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}

	again, err := env.rollups.RecomputeNode(context.Background(), node.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !again.TotalCarbonCredits.Equal(node.TotalCarbonCredits) || again.ConfidenceScore != node.ConfidenceScore {
		t.Fatalf("recompute drifted: %s/%v vs %s/%v", again.TotalCarbonCredits, again.ConfidenceScore, node.TotalCarbonCredits, node.ConfidenceScore)
	}

	node, err = env.community.LeaveNode(userCtx(2), node.ID, b.ID)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !node.TotalCarbonCredits.Equal(decimal.NewFromInt(6)) || len(node.MemberFarmers) != 1 {
		t.Fatalf("unexpected node after leave %+v", node)
	}
	if _, err := env.community.LeaveNode(userCtx(2), node.ID, b.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound leaving twice, got %v", err)
	}
}

func TestMemberWithoutCreditsCountsAsZeroConfidence(t *testing.T) {
	members := []int{1, 2}
	farmers := map[int]*models.Farmer{1: {ID: 1}, 2: {ID: 2}}
	credits := []models.CarbonCredit{{FarmerId: 1, Amount: decimal.NewFromInt(3), ConfidenceScore: 90}}
	r := ComputeNodeRollup(members, farmers, credits)
	if r.Confidence != 45 {
		t.Fatalf("expected 45, got %v", r.Confidence)
	}
	if empty := ComputeNodeRollup(nil, nil, credits); empty.Confidence != 0 || !empty.TotalCredits.IsZero() {
		t.Fatalf("expected empty rollup, got %+v", empty)
	}
}

func TestConcurrentJoinsDoNotLoseMembers(t *testing.T) {
	env := newTestEnv(nil)
	seedFarmer(t, env.store, 1, "1")
	node, err := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "Busy", NodeType: models.NodeTypeDistrict})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	const joiners = 12
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		userId := 100 + i
		f := seedFarmer(t, env.store, userId, "1")
		seedCredit(t, env.store, f.ID, "2", 70, models.CreditStatusPending)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.community.JoinNode(userCtx(userId), node.ID, f.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	n, _ := env.store.GetMRVNode(context.Background(), node.ID)
	if len(n.MemberFarmers) != joiners+1 {
		t.Fatalf("expected %d members, got %d", joiners+1, len(n.MemberFarmers))
	}
	if !n.TotalCarbonCredits.Equal(decimal.NewFromInt(2 * joiners)) {
		t.Fatalf("expected total %d, got %s", 2*joiners, n.TotalCarbonCredits)
	}
}

func TestRemoveFarmerNeedsCoordinator(t *testing.T) {
	env := newTestEnv(nil)
	seedFarmer(t, env.store, 1, "1")
	b := seedFarmer(t, env.store, 2, "1")
	node, _ := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "Delta", NodeType: models.NodeTypeCommunity})
	if _, err := env.community.JoinNode(userCtx(2), node.ID, b.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.community.RemoveFarmer(userCtx(2), node.ID, b.ID); !errors.Is(err, models.ErrOwnership) {
		t.Fatalf("expected ErrOwnership for a plain member, got %v", err)
	}
	n, err := env.community.RemoveFarmer(userCtx(1), node.ID, b.ID)
	if err != nil || n.HasMember(b.ID) {
		t.Fatalf("coordinator removal failed: %v", err)
	}
}

func TestCommunityStatsAndFarmerNode(t *testing.T) {
	env := newTestEnv(nil)
	a := seedFarmer(t, env.store, 1, "2")
	seedFarmer(t, env.store, 2, "3")
	seedCredit(t, env.store, a.ID, "4", 80, models.CreditStatusPending)
	if _, err := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "A", NodeType: models.NodeTypeCommunity}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.community.CreateNode(userCtx(2), models.NewMRVNode{Name: "B", NodeType: models.NodeTypeCommunity}); err != nil {
		t.Fatalf("create: %v", err)
	}

	stats, err := env.community.CommunityStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalFarmers != 2 || !stats.TotalArea.Equal(decimal.NewFromInt(5)) || !stats.TotalCredits.Equal(decimal.NewFromInt(4)) || stats.AvgConfidence != 40 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	node, err := env.community.GetFarmerNode(userCtx(1), a.ID)
	if err != nil || node.Name != "A" {
		t.Fatalf("farmer node: %v", err)
	}
}

func TestDeleteFarmerLeavesNodes(t *testing.T) {
	env := newTestEnv(nil)
	seedFarmer(t, env.store, 1, "2")
	b := seedFarmer(t, env.store, 2, "3")
	node, _ := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "A", NodeType: models.NodeTypeCommunity})
	if _, err := env.community.JoinNode(userCtx(2), node.ID, b.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.farmers.DeleteFarmer(userCtx(2), b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := env.store.GetMRVNode(context.Background(), node.ID)
	if n.HasMember(b.ID) || !n.TotalArea.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("node still carries deleted farmer: %+v", n)
	}
}

type brokenLocker struct{}

func (brokenLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("redis unavailable")
}

func TestDeleteFarmerSurvivesNodeLockFailure(t *testing.T) {
	env := newTestEnv(nil)
	seedFarmer(t, env.store, 1, "2")
	b := seedFarmer(t, env.store, 2, "3")
	node, _ := env.community.CreateNode(userCtx(1), models.NewMRVNode{Name: "A", NodeType: models.NodeTypeCommunity})
	if _, err := env.community.JoinNode(userCtx(2), node.ID, b.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	env.rollups.Locker = brokenLocker{}
	if err := env.farmers.DeleteFarmer(userCtx(2), b.ID); err != nil {
		t.Fatalf("node failure must not block deletion: %v", err)
	}
	if _, err := env.store.GetFarmer(context.Background(), b.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("farmer still stored: %v", err)
	}

	env.rollups.Locker = NewLocalLocker()
	n, err := env.community.RecomputeNode(userCtx(1), node.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !n.TotalArea.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("recompute must drop the deleted farmer's area, got %s", n.TotalArea)
	}
}
