package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxRollupAttempts = 3

var errStaleSnapshot = errors.New("node membership changed during rollup")

// NodeRollup is the node's derived state, always computed from scratch.
type NodeRollup struct {
	TotalArea       decimal.Decimal
	TotalCredits    decimal.Decimal
	VerifiedCredits decimal.Decimal
	Confidence      float64
}

// ComputeNodeRollup derives node totals from a snapshot of its members.
// Members missing from farmers (deleted) contribute no area. A member's
// confidence is the mean confidence of its credits, 0 without credits; the
// node confidence is the mean over members, 0 without members.
func ComputeNodeRollup(members []int, farmers map[int]*models.Farmer, credits []models.CarbonCredit) NodeRollup {
	rollup := NodeRollup{
		TotalArea:       decimal.Zero,
		TotalCredits:    decimal.Zero,
		VerifiedCredits: decimal.Zero,
	}
	if len(members) == 0 {
		return rollup
	}
	byFarmer := make(map[int][]models.CarbonCredit, len(members))
	for _, c := range credits {
		byFarmer[c.FarmerId] = append(byFarmer[c.FarmerId], c)
	}

	confidenceSum := 0.0
	for _, id := range members {
		if f, ok := farmers[id]; ok && f != nil {
			rollup.TotalArea = rollup.TotalArea.Add(f.FarmSize)
		}
		own := byFarmer[id]
		if len(own) == 0 {
			continue
		}
		memberConfidence := 0
		for _, c := range own {
			rollup.TotalCredits = rollup.TotalCredits.Add(c.Amount)
			if countsAsVerified(c.Status) {
				rollup.VerifiedCredits = rollup.VerifiedCredits.Add(c.Amount)
			}
			memberConfidence += c.ConfidenceScore
		}
		confidenceSum += float64(memberConfidence) / float64(len(own))
	}
	rollup.Confidence = confidenceSum / float64(len(members))
	return rollup
}

// ComputeFarmerTotals derives a farmer's credit totals from its credit set.
func ComputeFarmerTotals(credits []models.CarbonCredit) models.FarmerCreditTotals {
	totals := models.FarmerCreditTotals{Total: decimal.Zero, Verified: decimal.Zero, Pending: decimal.Zero}
	for _, c := range credits {
		totals.Total = totals.Total.Add(c.Amount)
		if countsAsVerified(c.Status) {
			totals.Verified = totals.Verified.Add(c.Amount)
		} else if c.Status == models.CreditStatusPending {
			totals.Pending = totals.Pending.Add(c.Amount)
		}
	}
	return totals
}

func countsAsVerified(s models.CreditStatus) bool {
	return s == models.CreditStatusVerified || s == models.CreditStatusIssued || s == models.CreditStatusTraded
}

func applyRollup(n *models.MRVNode, r NodeRollup, at time.Time) {
	n.TotalArea = r.TotalArea
	n.TotalCarbonCredits = r.TotalCredits
	n.VerifiedCarbonCredits = r.VerifiedCredits
	n.ConfidenceScore = r.Confidence
	n.LastUpdated = at
}

// Rollups recomputes farmer and node aggregates. Every node write happens
// under the node's lock and re-checks membership inside the store update.
type Rollups struct {
	Store  models.Store
	Locker KeyedLocker
	Logger *logrus.Logger

	now func() time.Time
}

func NewRollups(store models.Store, locker KeyedLocker, logger *logrus.Logger) *Rollups {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Rollups{Store: store, Locker: locker, Logger: logger, now: time.Now}
}

func (r *Rollups) RecomputeFarmer(ctx context.Context, farmerId int) error {
	ctx = systemContext(ctx)
	release, err := r.Locker.Lock(ctx, fmt.Sprintf("farmer:%d", farmerId))
	if err != nil {
		return err
	}
	defer release()

	credits, err := r.Store.ListCarbonCreditsByFarmers(ctx, []int{farmerId})
	if err != nil {
		return err
	}
	return r.Store.UpdateFarmerCredits(ctx, farmerId, ComputeFarmerTotals(credits))
}

func (r *Rollups) RecomputeNode(ctx context.Context, nodeId int) (*models.MRVNode, error) {
	return r.mutateNode(ctx, nodeId, nil)
}

// RecomputeNodesFor refreshes every node the farmer belongs to.
func (r *Rollups) RecomputeNodesFor(ctx context.Context, farmerId int) error {
	nodes, err := r.Store.ListMRVNodesByMember(systemContext(ctx), farmerId)
	if err != nil {
		return err
	}
	var errs []error
	for _, n := range nodes {
		if _, err := r.RecomputeNode(ctx, n.ID); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}

// mutateNode applies an optional membership change and a fresh rollup as one
// store update. The snapshot is taken from the membership the change was
// computed against; if the stored membership moved in between, it retries.
func (r *Rollups) mutateNode(ctx context.Context, nodeId int, mutate func(*models.MRVNode) error) (*models.MRVNode, error) {
	ctx = systemContext(ctx)
	release, err := r.Locker.Lock(ctx, fmt.Sprintf("node:%d", nodeId))
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; attempt < maxRollupAttempts; attempt++ {
		current, err := r.Store.GetMRVNode(ctx, nodeId)
		if err != nil {
			return nil, err
		}
		before := append([]int(nil), current.MemberFarmers...)
		if mutate != nil {
			if err := mutate(current); err != nil {
				return nil, err
			}
		}
		rollup, err := r.snapshot(ctx, current.MemberFarmers)
		if err != nil {
			return nil, err
		}
		at := r.clock().UTC()
		updated, err := r.Store.UpdateMRVNodeWith(ctx, nodeId, func(n *models.MRVNode) error {
			if !sameMembers(n.MemberFarmers, before) {
				return errStaleSnapshot
			}
			if mutate != nil {
				if err := mutate(n); err != nil {
					return err
				}
			}
			applyRollup(n, rollup, at)
			return nil
		})
		if errors.Is(err, errStaleSnapshot) {
			r.Logger.WithFields(logrus.Fields{
				"field":   "mutateNode",
				"node_id": nodeId,
				"attempt": attempt + 1,
			}).Warn("node membership moved, retrying rollup")
			continue
		}
		return updated, err
	}
	return nil, errStaleSnapshot
}

func (r *Rollups) snapshot(ctx context.Context, members []int) (NodeRollup, error) {
	farmers := make(map[int]*models.Farmer, len(members))
	for _, id := range members {
		f, err := r.Store.GetFarmer(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return NodeRollup{}, err
		}
		farmers[id] = f
	}
	var credits []models.CarbonCredit
	if len(members) > 0 {
		var err error
		credits, err = r.Store.ListCarbonCreditsByFarmers(ctx, members)
		if err != nil {
			return NodeRollup{}, err
		}
	}
	return ComputeNodeRollup(members, farmers, credits), nil
}

func (r *Rollups) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func sameMembers(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
