package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// CertificationThreshold is the overall compliance percentage needed for certification.
const CertificationThreshold = 80.0

type ComplianceReportBuilder struct {
	Store  models.Store
	Logger *logrus.Logger

	now func() time.Time
}

func NewComplianceReportBuilder(store models.Store, logger *logrus.Logger) *ComplianceReportBuilder {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &ComplianceReportBuilder{Store: store, Logger: logger, now: time.Now}
}

// BuildReport computes a report from the records already selected for the
// farmer, practice and period. Empty categories score 0.
func BuildReport(farmerId int, practice models.PracticeType, period models.Period, records []models.VerificationRecord, credits []models.CarbonCredit, generatedAt time.Time) models.ComplianceReport {
	type tally struct{ passed, total int }
	categories := map[models.VerificationType]*tally{
		models.VerificationTypeCropStage:     {},
		models.VerificationTypeFertilizerUse: {},
		models.VerificationTypeIrrigation:    {},
		models.VerificationTypeHarvest:       {},
	}
	passed := 0
	for _, r := range records {
		if r.Analysis.Compliance {
			passed++
		}
		if t, ok := categories[r.VerificationType]; ok {
			t.total++
			if r.Analysis.Compliance {
				t.passed++
			}
		}
	}
	pct := func(t *tally) float64 {
		return float64(t.passed) / float64(max(t.total, 1)) * 100
	}
	overall := 0.0
	if len(records) > 0 {
		overall = float64(passed) / float64(len(records)) * 100
	}

	return models.ComplianceReport{
		FarmerId:              farmerId,
		ReportPeriod:          period,
		PracticeType:          practice,
		OverallCompliance:     overall,
		VerificationCount:     len(records),
		PassedVerifications:   passed,
		CertificationEligible: overall >= CertificationThreshold,
		ReportData: models.ComplianceBreakdown{
			CropStages:           pct(categories[models.VerificationTypeCropStage]),
			FertilizerCompliance: pct(categories[models.VerificationTypeFertilizerUse]),
			IrrigationCompliance: pct(categories[models.VerificationTypeIrrigation]),
			HarvestCompliance:    pct(categories[models.VerificationTypeHarvest]),
		},
		CarbonMetrics: ComputeCarbonMetrics(credits, period),
		GeneratedAt:   generatedAt,
	}
}

// ComputeCarbonMetrics totals the credits whose period starts inside the report period.
func ComputeCarbonMetrics(credits []models.CarbonCredit, period models.Period) models.CarbonMetrics {
	m := models.CarbonMetrics{
		TotalSequestration: decimal.Zero,
		MethaneReduction:   decimal.Zero,
		CreditsGenerated:   decimal.Zero,
		CreditsVerified:    decimal.Zero,
		EstimatedEarnings:  decimal.Zero,
	}
	for _, c := range credits {
		if !period.Contains(c.VerificationPeriod.StartDate) {
			continue
		}
		if c.CreditType == models.CreditTypeMethaneReduction {
			m.MethaneReduction = m.MethaneReduction.Add(c.Amount)
		} else {
			m.TotalSequestration = m.TotalSequestration.Add(c.Amount)
		}
		m.CreditsGenerated = m.CreditsGenerated.Add(c.Amount)
		if countsAsVerified(c.Status) {
			m.CreditsVerified = m.CreditsVerified.Add(c.Amount)
		}
		if c.ActualValue != nil {
			m.EstimatedEarnings = m.EstimatedEarnings.Add(*c.ActualValue)
		} else {
			m.EstimatedEarnings = m.EstimatedEarnings.Add(c.EstimatedValue)
		}
	}
	return m
}

// GenerateReport builds and stores a new report. Earlier reports are kept.
func (b *ComplianceReportBuilder) GenerateReport(ctx context.Context, farmerId int, practice models.PracticeType, start, end time.Time) (*models.ComplianceReport, error) {
	ctx, span := tracer.Start(ctx, "ComplianceReportBuilder.GenerateReport")
	defer span.End()

	ctx, _, err := authorizeFarmer(ctx, b.Store, farmerId)
	if err != nil {
		return nil, err
	}
	if !practice.IsValid() {
		return nil, fmt.Errorf("%w: unknown practice type %q", models.ErrInvalidInput, practice)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: report period ends before it starts", models.ErrInvalidInput)
	}
	period := models.Period{StartDate: start, EndDate: end}

	records, err := b.Store.ListVerificationRecords(ctx, models.VerificationQuery{
		FarmerId:     farmerId,
		PracticeType: practice,
		From:         start,
		To:           end,
	})
	if err != nil {
		return nil, err
	}
	credits, err := b.Store.ListCarbonCreditsByFarmers(ctx, []int{farmerId})
	if err != nil {
		return nil, err
	}

	report := BuildReport(farmerId, practice, period, records, credits, b.clock().UTC())
	if err := b.Store.CreateComplianceReport(ctx, &report); err != nil {
		return nil, err
	}
	reportsGenerated.WithLabelValues(fmt.Sprint(report.CertificationEligible)).Inc()
	span.SetAttributes(attribute.Int("report_id", report.ID), attribute.Int("verifications", report.VerificationCount))
	b.Logger.WithFields(logrus.Fields{
		"field":              "GenerateReport",
		"farmer_id":          farmerId,
		"report_id":          report.ID,
		"overall_compliance": report.OverallCompliance,
	}).Info("compliance report generated")
	return &report, nil
}

func (b *ComplianceReportBuilder) GetReport(ctx context.Context, reportId int) (*models.ComplianceReport, error) {
	report, err := b.Store.GetComplianceReport(systemContext(ctx), reportId)
	if err != nil {
		return nil, err
	}
	if _, _, err := authorizeFarmer(ctx, b.Store, report.FarmerId); err != nil {
		return nil, err
	}
	return report, nil
}

// ListFarmerReports returns the farmer's reports newest first.
func (b *ComplianceReportBuilder) ListFarmerReports(ctx context.Context, farmerId int) ([]models.ComplianceReport, error) {
	ctx, _, err := authorizeFarmer(ctx, b.Store, farmerId)
	if err != nil {
		return nil, err
	}
	return b.Store.ListComplianceReports(ctx, farmerId, "")
}

// ComplianceStats summarizes stored reports, optionally for one practice.
// TotalFarmers counts distinct farmers, not reports.
func (b *ComplianceReportBuilder) ComplianceStats(ctx context.Context, practice models.PracticeType) (models.ComplianceStats, error) {
	reports, err := b.Store.ListComplianceReports(systemContext(ctx), 0, practice)
	if err != nil {
		return models.ComplianceStats{}, err
	}
	return SummarizeReports(reports), nil
}

func SummarizeReports(reports []models.ComplianceReport) models.ComplianceStats {
	var stats models.ComplianceStats
	if len(reports) == 0 {
		return stats
	}
	farmerIds := make([]int, 0, len(reports))
	total := 0.0
	for _, r := range reports {
		farmerIds = append(farmerIds, r.FarmerId)
		total += r.OverallCompliance
		stats.TotalVerifications += r.VerificationCount
		if r.CertificationEligible {
			stats.CertificationEligible++
		}
	}
	stats.TotalFarmers = len(utils.UniqueSlice(farmerIds))
	stats.AverageCompliance = total / float64(len(reports))
	return stats
}

func (b *ComplianceReportBuilder) clock() time.Time {
	if b.now == nil {
		return time.Now()
	}
	return b.now()
}
