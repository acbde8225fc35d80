package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultCreditWindowDays = 30
	carbonStatsTTL          = 5 * time.Minute
)

// t CO2 per hectare per year
var sequestrationRates = map[models.PracticeType]decimal.Decimal{
	models.PracticeTypeSRI:          decimal.RequireFromString("2.5"),
	models.PracticeTypeOrganic:      decimal.RequireFromString("1.8"),
	models.PracticeTypeRegenerative: decimal.RequireFromString("3.2"),
	models.PracticeTypeAgroforestry: decimal.RequireFromString("4.5"),
}

var defaultSequestrationRate = decimal.NewFromInt(1)

func SequestrationRate(practice models.PracticeType) decimal.Decimal {
	if r, ok := sequestrationRates[practice]; ok {
		return r
	}
	return defaultSequestrationRate
}

// CreditConfidence grows 5 points per piece of evidence from 60 and stops at 95.
func CreditConfidence(evidenceCount int) int {
	if evidenceCount < 0 {
		evidenceCount = 0
	}
	if evidenceCount >= 7 {
		return 95
	}
	return 60 + 5*evidenceCount
}

type CreditParams struct {
	Methodology    string
	PricePerCredit decimal.Decimal
	Period         models.Period
}

// BuildCredits emits one pending credit per crop with a positive area. Every
// credit shares the full evidence list.
func BuildCredits(farmer *models.Farmer, crops []models.Crop, evidence []models.VerificationRecord, params CreditParams) []*models.CarbonCredit {
	ids := make([]int, 0, len(evidence))
	for _, r := range evidence {
		ids = append(ids, r.ID)
	}
	confidence := CreditConfidence(len(evidence))

	var credits []*models.CarbonCredit
	for i := range crops {
		crop := crops[i]
		if !crop.Area.IsPositive() {
			continue
		}
		amount := SequestrationRate(crop.PracticeType).Mul(crop.Area)
		cropId := crop.ID
		credits = append(credits, &models.CarbonCredit{
			FarmerId:           farmer.ID,
			CooperativeId:      farmer.CooperativeId,
			CropId:             &cropId,
			CreditType:         models.CreditTypeForPractice(crop.PracticeType),
			Amount:             amount,
			Status:             models.CreditStatusPending,
			VerificationPeriod: params.Period,
			Methodology:        params.Methodology,
			ConfidenceScore:    confidence,
			EstimatedValue:     amount.Mul(params.PricePerCredit),
			EvidenceRecords:    append([]int(nil), ids...),
		})
	}
	return credits
}

// CarbonCreditEngine turns verified evidence into credit records and keeps
// the farmer and node rollups in step with them.
type CarbonCreditEngine struct {
	Store          models.Store
	Rollups        *Rollups
	Logger         *logrus.Logger
	Methodology    string
	PricePerCredit decimal.Decimal
	CacheStats     bool

	now func() time.Time
}

func NewCarbonCreditEngine(store models.Store, rollups *Rollups, logger *logrus.Logger, settings config.Pipeline) *CarbonCreditEngine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &CarbonCreditEngine{
		Store:          store,
		Rollups:        rollups,
		Logger:         logger,
		Methodology:    settings.Methodology,
		PricePerCredit: settings.PricePerCredit,
		CacheStats:     config.CarbonStatsCacheEnabled(),
		now:            time.Now,
	}
}

// GenerateCredits appends one credit per crop from the verified records of the
// last windowDays. Calling it twice for the same window creates duplicates.
func (e *CarbonCreditEngine) GenerateCredits(ctx context.Context, farmerId int, windowDays int) ([]*models.CarbonCredit, error) {
	ctx, span := tracer.Start(ctx, "CarbonCreditEngine.GenerateCredits")
	defer span.End()

	ctx, farmer, err := authorizeFarmer(ctx, e.Store, farmerId)
	if err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		windowDays = DefaultCreditWindowDays
	}
	now := e.clock().UTC()
	period := models.Period{StartDate: now.AddDate(0, 0, -windowDays), EndDate: now}

	evidence, err := e.Store.ListVerificationRecords(ctx, models.VerificationQuery{
		FarmerId: farmerId,
		Status:   models.VerificationStatusVerified,
		From:     period.StartDate,
		To:       period.EndDate,
	})
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, models.ErrNoEvidence
	}
	crops, err := e.Store.ListCropsByFarmer(ctx, farmerId)
	if err != nil {
		return nil, err
	}
	credits := BuildCredits(farmer, crops, evidence, CreditParams{
		Methodology:    e.Methodology,
		PricePerCredit: e.PricePerCredit,
		Period:         period,
	})
	if len(credits) == 0 {
		return nil, fmt.Errorf("%w: farmer has no registered crops", models.ErrNoEvidence)
	}
	if err := e.Store.CreateCarbonCredits(ctx, credits); err != nil {
		return nil, err
	}
	for _, c := range credits {
		creditsGenerated.WithLabelValues(string(c.CreditType)).Inc()
	}
	span.SetAttributes(attribute.Int("farmer_id", farmerId), attribute.Int("credits", len(credits)), attribute.Int("evidence", len(evidence)))
	e.Logger.WithFields(logrus.Fields{
		"field":     "GenerateCredits",
		"farmer_id": farmerId,
		"credits":   len(credits),
		"evidence":  len(evidence),
	}).Info("carbon credits generated")

	e.afterCreditChange(ctx, farmerId)
	return credits, nil
}

// AdvanceCreditStatus applies a settlement event. Only the next status in
// pending, verified, issued, traded is accepted.
func (e *CarbonCreditEngine) AdvanceCreditStatus(ctx context.Context, creditId int, settlement models.CreditSettlement) (*models.CarbonCredit, error) {
	ctx = systemContext(ctx)
	now := e.clock().UTC()
	credit, err := e.Store.UpdateCarbonCreditWith(ctx, creditId, func(c *models.CarbonCredit) error {
		if !c.Status.CanAdvanceTo(settlement.Status) {
			return fmt.Errorf("%w: credit %s -> %s", models.ErrInvalidTransition, c.Status, settlement.Status)
		}
		c.Status = settlement.Status
		switch settlement.Status {
		case models.CreditStatusIssued:
			c.IssuedAt = &now
		case models.CreditStatusTraded:
			c.TradedAt = &now
		}
		if settlement.ActualValue != nil {
			v := *settlement.ActualValue
			c.ActualValue = &v
		}
		if settlement.LedgerTxRef != nil {
			ref := *settlement.LedgerTxRef
			c.LedgerTxRef = &ref
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"field":     "AdvanceCreditStatus",
		"credit_id": creditId,
		"status":    credit.Status,
	}).Info("carbon credit settled")

	e.afterCreditChange(ctx, credit.FarmerId)
	return credit, nil
}

// afterCreditChange refreshes rollups. The credits are already stored, so
// failures are logged; RecomputeNode can repair a node later.
func (e *CarbonCreditEngine) afterCreditChange(ctx context.Context, farmerId int) {
	e.invalidateStats(farmerId)
	if e.Rollups == nil {
		return
	}
	if err := e.Rollups.RecomputeFarmer(ctx, farmerId); err != nil {
		config.LogError(e.Logger, "carbonCreditWorkflow.go", "afterCreditChange", "RecomputeFarmer", farmerId, err)
	}
	if err := e.Rollups.RecomputeNodesFor(ctx, farmerId); err != nil {
		config.LogError(e.Logger, "carbonCreditWorkflow.go", "afterCreditChange", "RecomputeNodesFor", farmerId, err)
	}
}

func (e *CarbonCreditEngine) ListFarmerCredits(ctx context.Context, farmerId int) ([]models.CarbonCredit, error) {
	ctx, _, err := authorizeFarmer(ctx, e.Store, farmerId)
	if err != nil {
		return nil, err
	}
	credits, err := e.Store.ListCarbonCreditsByFarmers(ctx, []int{farmerId})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(credits, func(i, j int) bool { return credits[i].ID > credits[j].ID })
	return credits, nil
}

type CarbonStats struct {
	TotalSequestration decimal.Decimal `json:"total_sequestration"`
	MethaneReduction   decimal.Decimal `json:"methane_reduction"`
	TotalCredits       decimal.Decimal `json:"total_credits"`
	EstimatedValue     decimal.Decimal `json:"estimated_value"`
	Confidence         float64         `json:"confidence"`
}

// ComputeCarbonStats totals the credits whose period starts at or after since.
func ComputeCarbonStats(credits []models.CarbonCredit, since time.Time, price decimal.Decimal) CarbonStats {
	stats := CarbonStats{
		TotalSequestration: decimal.Zero,
		MethaneReduction:   decimal.Zero,
		TotalCredits:       decimal.Zero,
		EstimatedValue:     decimal.Zero,
	}
	n, confidence := 0, 0
	for _, c := range credits {
		if c.VerificationPeriod.StartDate.Before(since) {
			continue
		}
		switch c.CreditType {
		case models.CreditTypeSequestration:
			stats.TotalSequestration = stats.TotalSequestration.Add(c.Amount)
		case models.CreditTypeMethaneReduction:
			stats.MethaneReduction = stats.MethaneReduction.Add(c.Amount)
		}
		stats.TotalCredits = stats.TotalCredits.Add(c.Amount)
		confidence += c.ConfidenceScore
		n++
	}
	stats.EstimatedValue = stats.TotalCredits.Mul(price)
	if n > 0 {
		stats.Confidence = float64(confidence) / float64(n)
	}
	return stats
}

func (e *CarbonCreditEngine) GetCarbonStats(ctx context.Context, farmerId int, days int) (*CarbonStats, error) {
	ctx, _, err := authorizeFarmer(ctx, e.Store, farmerId)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultCreditWindowDays
	}
	cached := map[string]CarbonStats{}
	if e.CacheStats {
		if ok, err := config.GetRedisObject(statsCacheKey(farmerId), &cached); err != nil {
			config.LogError(e.Logger, "carbonCreditWorkflow.go", "GetCarbonStats", "GetRedisObject", farmerId, err)
		} else if ok {
			if s, hit := cached[strconv.Itoa(days)]; hit {
				return &s, nil
			}
		}
	}

	credits, err := e.Store.ListCarbonCreditsByFarmers(ctx, []int{farmerId})
	if err != nil {
		return nil, err
	}
	stats := ComputeCarbonStats(credits, e.clock().UTC().AddDate(0, 0, -days), e.PricePerCredit)
	if e.CacheStats {
		cached[strconv.Itoa(days)] = stats
		if err := config.SetRedisObject(statsCacheKey(farmerId), cached, carbonStatsTTL); err != nil {
			config.LogError(e.Logger, "carbonCreditWorkflow.go", "GetCarbonStats", "SetRedisObject", farmerId, err)
		}
	}
	return &stats, nil
}

func (e *CarbonCreditEngine) invalidateStats(farmerId int) {
	if !e.CacheStats {
		return
	}
	if err := config.RemoveRedisKey(statsCacheKey(farmerId)); err != nil {
		config.LogError(e.Logger, "carbonCreditWorkflow.go", "invalidateStats", "RemoveRedisKey", farmerId, err)
	}
}

func statsCacheKey(farmerId int) string {
	return "carbon_stats:" + strconv.Itoa(farmerId)
}

func (e *CarbonCreditEngine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}
