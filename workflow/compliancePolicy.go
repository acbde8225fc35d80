package workflow

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmdatafocus/mrv_backend/analyzer"
	"github.com/mmdatafocus/mrv_backend/models"
)

const (
	// confidence must be strictly above this to count as compliant
	ComplianceThreshold = 75
	MaxFindings         = 5

	FallbackConfidence  = 50
	FallbackFinding     = "AI analysis temporarily unavailable"
	MissingImageFinding = "Evidence image not found"
)

// RemediationChecklist is attached to non-compliant results when the analyzer
// gave no recommendations of its own.
var RemediationChecklist = []string{
	"Consider reviewing irrigation schedule",
	"Check fertilizer application",
}

// ErrAnalysisFailure covers analyzer errors, timeouts and unusable output.
// It is absorbed by the pipeline and never returned to callers.
var ErrAnalysisFailure = errors.New("analysis failure")

// only an explicitly labelled score counts; other numbers in the narrative
// describe the field, not the analysis
var labelledConfidence = regexp.MustCompile(`(?i)\bconfidence(?:\s+score)?\s*[:=]\s*(\d{1,3})\b`)

type PolicyResult struct {
	Analysis models.AIAnalysis
	Status   models.VerificationStatus
}

// EvaluateAnalysis turns raw analyzer output into the stored analysis and the
// record's terminal status. Output without a usable confidence is an
// ErrAnalysisFailure.
func EvaluateAnalysis(out *analyzer.Output) (PolicyResult, error) {
	if out == nil {
		return PolicyResult{}, ErrAnalysisFailure
	}
	confidence, ok := resolveConfidence(out)
	if !ok {
		return PolicyResult{}, ErrAnalysisFailure
	}

	compliant := IsCompliant(confidence)
	analysis := models.AIAnalysis{
		Confidence: confidence,
		Compliance: compliant,
		Findings:   SplitFindings(out.Narrative),
	}
	recs := nonBlank(out.Recommendations)
	if len(recs) > 0 {
		analysis.Recommendations = recs
	} else if !compliant {
		analysis.Recommendations = append([]string(nil), RemediationChecklist...)
	}
	return PolicyResult{Analysis: analysis, Status: statusFor(compliant)}, nil
}

func IsCompliant(confidence int) bool {
	return confidence > ComplianceThreshold
}

// statusFor never rejects; a low score goes to a reviewer.
func statusFor(compliant bool) models.VerificationStatus {
	if compliant {
		return models.VerificationStatusVerified
	}
	return models.VerificationStatusPendingReview
}

// FallbackResult is what a record gets when the analyzer could not be used.
// It is never rejected: a soft failure leaves the record for human review.
func FallbackResult(finding string) PolicyResult {
	return PolicyResult{
		Analysis: models.AIAnalysis{
			Confidence: FallbackConfidence,
			Compliance: false,
			Findings:   []string{finding},
		},
		Status: models.VerificationStatusPendingReview,
	}
}

// SplitFindings keeps the first MaxFindings non-empty lines of the narrative.
func SplitFindings(narrative string) []string {
	findings := make([]string, 0, MaxFindings)
	for _, line := range strings.Split(narrative, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		findings = append(findings, line)
		if len(findings) == MaxFindings {
			break
		}
	}
	return findings
}

func resolveConfidence(out *analyzer.Output) (int, bool) {
	if out.Confidence != nil {
		return clampConfidence(*out.Confidence), true
	}
	m := labelledConfidence.FindStringSubmatch(out.Narrative)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v > 100 {
		return 0, false
	}
	return v, true
}

func clampConfidence(v int) int {
	return int(math.Max(0, math.Min(100, float64(v))))
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
