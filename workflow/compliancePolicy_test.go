package workflow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mmdatafocus/mrv_backend/analyzer"
	"github.com/mmdatafocus/mrv_backend/models"
)

func intPtr(v int) *int { return &v }

func TestEvaluateAnalysis(t *testing.T) {
	cases := []struct {
		name       string
		out        *analyzer.Output
		confidence int
		compliant  bool
		status     models.VerificationStatus
		recs       []string
	}{
		{"compliant", &analyzer.Output{Narrative: "healthy tillers", Confidence: intPtr(90)}, 90, true, models.VerificationStatusVerified, nil},
		{"boundary above", &analyzer.Output{Confidence: intPtr(76)}, 76, true, models.VerificationStatusVerified, nil},
		{"boundary", &analyzer.Output{Confidence: intPtr(75)}, 75, false, models.VerificationStatusPendingReview, RemediationChecklist},
		{"low goes to review", &analyzer.Output{Confidence: intPtr(10)}, 10, false, models.VerificationStatusPendingReview, RemediationChecklist},
		{"clamped", &analyzer.Output{Confidence: intPtr(150)}, 100, true, models.VerificationStatusVerified, nil},
		{"negative", &analyzer.Output{Confidence: intPtr(-5)}, 0, false, models.VerificationStatusPendingReview, RemediationChecklist},
		{"labelled in narrative", &analyzer.Output{Narrative: "Standing water visible.\nConfidence: 82"}, 82, true, models.VerificationStatusVerified, nil},
		{"score in narrative", &analyzer.Output{Narrative: "confidence score = 55"}, 55, false, models.VerificationStatusPendingReview, RemediationChecklist},
		{"labelled percent", &analyzer.Output{Narrative: "SRI spacing visible\nConfidence: 64%"}, 64, false, models.VerificationStatusPendingReview, RemediationChecklist},
		{"own recommendations", &analyzer.Output{Confidence: intPtr(50), Recommendations: []string{" thin seedlings ", ""}}, 50, false, models.VerificationStatusPendingReview, []string{"thin seedlings"}},
	}
	for _, tc := range cases {
		res, err := EvaluateAnalysis(tc.out)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if res.Analysis.Confidence != tc.confidence || res.Analysis.Compliance != tc.compliant {
			t.Fatalf("%s: got confidence=%d compliance=%v", tc.name, res.Analysis.Confidence, res.Analysis.Compliance)
		}
		if res.Status != tc.status {
			t.Fatalf("%s: expected status %s, got %s", tc.name, tc.status, res.Status)
		}
		if len(tc.recs) == 0 && len(res.Analysis.Recommendations) != 0 {
			t.Fatalf("%s: expected no recommendations, got %v", tc.name, res.Analysis.Recommendations)
		}
		if len(tc.recs) > 0 && !reflect.DeepEqual([]string(res.Analysis.Recommendations), tc.recs) {
			t.Fatalf("%s: expected recommendations %v, got %v", tc.name, tc.recs, res.Analysis.Recommendations)
		}
	}
}

func TestEvaluateAnalysisMalformed(t *testing.T) {
	for _, out := range []*analyzer.Output{
		nil,
		{Narrative: ""},
		{Narrative: "The field looks well managed."},
		{Narrative: `{"findings": ["x"]}`},
		{Narrative: "Rice plants look healthy.\nAbout 20% of the field is still flooded.\nNo pests seen."},
		{Narrative: "confidence 80"},
		{Narrative: "Confidence: 1000"},
	} {
		if _, err := EvaluateAnalysis(out); !errors.Is(err, ErrAnalysisFailure) {
			t.Fatalf("expected ErrAnalysisFailure for %+v, got %v", out, err)
		}
	}
}

func TestParsedRepliesThroughPolicy(t *testing.T) {
	cases := []struct {
		name       string
		reply      string
		confidence int
		status     models.VerificationStatus
	}{
		{"fraction", `{"confidence": 0.92, "findings": ["healthy SRI paddy"]}`, 92, models.VerificationStatusVerified},
		{"low fraction", `{"confidence": 0.3, "findings": ["weeds"]}`, 30, models.VerificationStatusPendingReview},
		{"percent scale", `{"confidence": 88, "findings": ["alternate wetting"]}`, 88, models.VerificationStatusVerified},
		{"zero", `{"confidence": 0, "findings": ["no crop visible"]}`, 0, models.VerificationStatusPendingReview},
	}
	for _, tc := range cases {
		res, err := EvaluateAnalysis(analyzer.ParseResponse(tc.reply))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if res.Analysis.Confidence != tc.confidence || res.Status != tc.status {
			t.Fatalf("%s: got confidence=%d status=%s", tc.name, res.Analysis.Confidence, res.Status)
		}
	}

	for _, reply := range []string{
		`{"confidence": 150, "findings": ["x"]}`,
		`{"confidence": -3, "findings": ["x"]}`,
	} {
		if _, err := EvaluateAnalysis(analyzer.ParseResponse(reply)); !errors.Is(err, ErrAnalysisFailure) {
			t.Fatalf("expected out-of-range score %s to be malformed, got %v", reply, err)
		}
	}
}

func TestSplitFindings(t *testing.T) {
	got := SplitFindings("one\n\n  two  \nthree\n \nfour\nfive\nsix\nseven")
	want := []string{"one", "two", "three", "four", "five"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := SplitFindings(""); len(got) != 0 {
		t.Fatalf("expected no findings, got %v", got)
	}
}

func TestFallbackResult(t *testing.T) {
	res := FallbackResult(FallbackFinding)
	if res.Status != models.VerificationStatusPendingReview {
		t.Fatalf("fallback must go to review, got %s", res.Status)
	}
	if res.Analysis.Confidence != 50 || res.Analysis.Compliance {
		t.Fatalf("unexpected fallback analysis %+v", res.Analysis)
	}
	if len(res.Analysis.Findings) != 1 || res.Analysis.Findings[0] != FallbackFinding {
		t.Fatalf("unexpected fallback findings %v", res.Analysis.Findings)
	}
}
