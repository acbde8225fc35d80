package workflow

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mmdatafocus/mrv_backend/analyzer"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/shopspring/decimal"
)

var knownRates = map[models.PracticeType]string{
	models.PracticeTypeSRI:          "2.5",
	models.PracticeTypeOrganic:      "1.8",
	models.PracticeTypeRegenerative: "3.2",
	models.PracticeTypeAgroforestry: "4.5",
}

func TestCreditAmountIsRateTimesArea(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	practices := []interface{}{
		models.PracticeTypeSRI, models.PracticeTypeOrganic, models.PracticeTypeRegenerative,
		models.PracticeTypeAgroforestry, models.PracticeTypeIntegrated, models.PracticeType("Permaculture"),
	}
	farmer := &models.Farmer{ID: 1}
	evidence := []models.VerificationRecord{{ID: 10}}

	properties.Property("amount = rate[practice] x area, default 1.0", prop.ForAll(
		func(practice models.PracticeType, hundredths int64) bool {
			area := decimal.New(hundredths, -2)
			credits := BuildCredits(farmer, []models.Crop{{ID: 3, PracticeType: practice, Area: area}}, evidence, CreditParams{
				Methodology:    "VM0042",
				PricePerCredit: decimal.NewFromInt(15),
			})
			if len(credits) != 1 {
				return false
			}
			rate := decimal.NewFromInt(1)
			if r, ok := knownRates[practice]; ok {
				rate = decimal.RequireFromString(r)
			}
			want := rate.Mul(area)
			return credits[0].Amount.Equal(want) &&
				credits[0].EstimatedValue.Equal(want.Mul(decimal.NewFromInt(15))) &&
				credits[0].Status == models.CreditStatusPending
		},
		gen.OneConstOf(practices...),
		gen.Int64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestCreditConfidenceSaturates(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("confidence = min(95, 60 + 5n)", prop.ForAll(
		func(n int) bool {
			return CreditConfidence(n) == min(95, 60+5*n)
		},
		gen.IntRange(0, 10_000),
	))
	properties.Property("confidence never decreases and never exceeds 95", prop.ForAll(
		func(n int) bool {
			return CreditConfidence(n) <= CreditConfidence(n+1) && CreditConfidence(n) <= 95
		},
		gen.IntRange(0, 10_000),
	))

	properties.TestingRun(t)

	for n, want := range map[int]int{0: 60, 3: 75, 7: 95, 20: 95} {
		if got := CreditConfidence(n); got != want {
			t.Fatalf("n=%d: expected %d, got %d", n, want, got)
		}
	}
}

func TestComplianceBoundaryIsExclusive(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("compliant iff confidence > 75", prop.ForAll(
		func(c int) bool {
			res, err := EvaluateAnalysis(&analyzer.Output{Confidence: &c})
			if err != nil {
				return false
			}
			return res.Analysis.Compliance == (c > 75) &&
				(res.Status == models.VerificationStatusVerified) == (c > 75) &&
				res.Status != models.VerificationStatusRejected
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestNodeRollupIsDeterministic(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("recomputing an unchanged snapshot gives the same totals", prop.ForAll(
		func(memberCount int, amounts []int64, confidences []int) bool {
			members := make([]int, memberCount)
			farmers := map[int]*models.Farmer{}
			for i := range members {
				members[i] = i + 1
				farmers[i+1] = &models.Farmer{ID: i + 1, FarmSize: decimal.NewFromInt(int64(i + 1))}
			}
			var credits []models.CarbonCredit
			sum := decimal.Zero
			for i, a := range amounts {
				if memberCount == 0 {
					break
				}
				amount := decimal.New(a, -1)
				conf := 60
				if i < len(confidences) {
					conf = confidences[i]
				}
				credits = append(credits, models.CarbonCredit{
					ID:                 i + 1,
					FarmerId:           members[i%memberCount],
					Amount:             amount,
					ConfidenceScore:    conf,
					Status:             models.CreditStatusPending,
					VerificationPeriod: models.Period{StartDate: start},
				})
				sum = sum.Add(amount)
			}
			a := ComputeNodeRollup(members, farmers, credits)
			b := ComputeNodeRollup(members, farmers, credits)
			if !a.TotalCredits.Equal(b.TotalCredits) || a.Confidence != b.Confidence || !a.TotalArea.Equal(b.TotalArea) {
				return false
			}
			if !a.TotalCredits.Equal(sum) {
				return false
			}
			if memberCount == 0 {
				return a.Confidence == 0
			}
			return a.Confidence >= 0 && a.Confidence <= 95
		},
		gen.IntRange(0, 8),
		gen.SliceOf(gen.Int64Range(1, 10_000)),
		gen.SliceOf(gen.IntRange(60, 95)),
	))

	properties.TestingRun(t)
}
