package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/mrv_backend/analyzer"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/shopspring/decimal"
)

func TestSubmitEvidenceCreatesPendingRecord(t *testing.T) {
	a := &countingAnalyzer{confidence: 90}
	env := newTestEnv(a)
	farmer := seedFarmer(t, env.store, 1, "2")
	ctx := userCtx(1)

	id := env.submit(t, ctx, farmer.ID, models.PracticeTypeSRI, models.VerificationTypeCropStage)

	rec, err := env.store.GetVerificationRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Status != models.VerificationStatusPendingAnalysis {
		t.Fatalf("expected pending_analysis, got %s", rec.Status)
	}
	if rec.Analysis.Confidence != 0 || rec.Analysis.Compliance || len(rec.Analysis.Findings) != 0 {
		t.Fatalf("expected zeroed analysis, got %+v", rec.Analysis)
	}
	if a.calls.Load() != 0 {
		t.Fatalf("analysis must not run inside submit")
	}
	if env.queue.Len() != 1 {
		t.Fatalf("expected one queued task, got %d", env.queue.Len())
	}
}

func TestSubmitEvidenceRejectsBadInput(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	farmer := seedFarmer(t, env.store, 1, "2")
	ctx := userCtx(1)

	cases := []SubmitEvidenceInput{
		{FarmerId: farmer.ID, PracticeType: "Hydroponic", VerificationType: models.VerificationTypeCropStage, ImageRef: "a.jpg"},
		{FarmerId: farmer.ID, PracticeType: models.PracticeTypeSRI, VerificationType: "selfie", ImageRef: "a.jpg"},
		{FarmerId: farmer.ID, PracticeType: models.PracticeTypeSRI, VerificationType: models.VerificationTypeCropStage, ImageRef: "  "},
	}
	for i, in := range cases {
		if _, err := env.pipeline.SubmitEvidence(ctx, in); !errors.Is(err, models.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestSubmitEvidenceRejectsForeignCrop(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	mine := seedFarmer(t, env.store, 1, "2")
	other := seedFarmer(t, env.store, 2, "2")
	crop := seedCrop(t, env.store, other.ID, models.PracticeTypeSRI, "1")

	_, err := env.pipeline.SubmitEvidence(userCtx(1), SubmitEvidenceInput{
		FarmerId:         mine.ID,
		CropId:           &crop.ID,
		PracticeType:     models.PracticeTypeSRI,
		VerificationType: models.VerificationTypeCropStage,
		ImageRef:         "a.jpg",
	})
	if !errors.Is(err, models.ErrOwnership) {
		t.Fatalf("expected ErrOwnership, got %v", err)
	}
}

func TestSubmitSurvivesFullQueue(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	env.queue = NewLocalQueue(1, 1, testLogger())
	env.pipeline.Queue = env.queue
	farmer := seedFarmer(t, env.store, 1, "2")
	ctx := userCtx(1)

	env.submit(t, ctx, farmer.ID, models.PracticeTypeSRI, models.VerificationTypeCropStage)
	second := env.submit(t, ctx, farmer.ID, models.PracticeTypeSRI, models.VerificationTypeIrrigation)
	rec, _ := env.store.GetVerificationRecord(context.Background(), second)
	if rec.Status != models.VerificationStatusPendingAnalysis {
		t.Fatalf("expected record to stay pending for the sweeper, got %s", rec.Status)
	}
}

func TestAnalyzerFailuresFallBackToReview(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	cases := map[string]analyzer.ImageAnalyzer{
		"error": analyzer.Func(func(context.Context, analyzer.Request) (*analyzer.Output, error) {
			return nil, errors.New("connection reset")
		}),
		"timeout ignoring context": analyzer.Func(func(context.Context, analyzer.Request) (*analyzer.Output, error) {
			<-block
			return nil, nil
		}),
		"malformed": analyzer.Func(func(context.Context, analyzer.Request) (*analyzer.Output, error) {
			return &analyzer.Output{Narrative: "nice field"}, nil
		}),
		"nil output": analyzer.Func(func(context.Context, analyzer.Request) (*analyzer.Output, error) {
			return nil, nil
		}),
		"panic": analyzer.Func(func(context.Context, analyzer.Request) (*analyzer.Output, error) {
			panic("boom")
		}),
	}
	for name, a := range cases {
		env := newTestEnv(a)
		env.pipeline.Timeout = 20 * time.Millisecond
		farmer := seedFarmer(t, env.store, 1, "2")
		id := env.submit(t, userCtx(1), farmer.ID, models.PracticeTypeOrganic, models.VerificationTypeFertilizerUse)

		if err := env.pipeline.RunAnalysis(context.Background(), id); err != nil {
			t.Fatalf("%s: fallback must not surface an error, got %v", name, err)
		}
		rec, _ := env.store.GetVerificationRecord(context.Background(), id)
		if rec.Status != models.VerificationStatusPendingReview {
			t.Fatalf("%s: expected pending_review, got %s", name, rec.Status)
		}
		if rec.Analysis.Confidence != 50 || rec.Analysis.Compliance {
			t.Fatalf("%s: unexpected analysis %+v", name, rec.Analysis)
		}
		if len(rec.Analysis.Findings) != 1 || rec.Analysis.Findings[0] != FallbackFinding {
			t.Fatalf("%s: unexpected findings %v", name, rec.Analysis.Findings)
		}
	}
}

func TestRunAnalysisMissingRecordAndImage(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	if err := env.pipeline.RunAnalysis(context.Background(), 999); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}

	farmer := seedFarmer(t, env.store, 1, "2")
	id := env.submit(t, userCtx(1), farmer.ID, models.PracticeTypeSRI, models.VerificationTypeHarvest)
	env.pipeline.Files = &fakeFiles{missing: map[string]bool{"evidence/photo.jpg": true}}

	if err := env.pipeline.RunAnalysis(context.Background(), id); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing image, got %v", err)
	}
	rec, _ := env.store.GetVerificationRecord(context.Background(), id)
	if !rec.Status.IsTerminal() {
		t.Fatalf("record must not stay pending after a missing image, got %s", rec.Status)
	}
	if rec.Analysis.Findings[0] != MissingImageFinding {
		t.Fatalf("unexpected findings %v", rec.Analysis.Findings)
	}
}

func TestHandleTaskSkipsResolvedRecords(t *testing.T) {
	a := &countingAnalyzer{confidence: 90}
	env := newTestEnv(a)
	farmer := seedFarmer(t, env.store, 1, "2")
	id := env.submit(t, userCtx(1), farmer.ID, models.PracticeTypeSRI, models.VerificationTypeCropStage)

	task := AnalysisTask{RecordId: id}
	if err := env.pipeline.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	a.confidence = 10
	if err := env.pipeline.HandleTask(context.Background(), task); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if a.calls.Load() != 1 {
		t.Fatalf("expected one analyzer call, got %d", a.calls.Load())
	}
	rec, _ := env.store.GetVerificationRecord(context.Background(), id)
	if rec.Status != models.VerificationStatusVerified || rec.Analysis.Confidence != 90 {
		t.Fatalf("redelivery overwrote the result: %+v", rec)
	}

	// a direct re-run overwrites deterministically
	if err := env.pipeline.RunAnalysis(context.Background(), id); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	rec, _ = env.store.GetVerificationRecord(context.Background(), id)
	if rec.Status != models.VerificationStatusPendingReview || rec.Analysis.Confidence != 10 {
		t.Fatalf("expected rerun result, got %s/%d", rec.Status, rec.Analysis.Confidence)
	}
}

func TestHandleTaskLosesRaceWithoutOverwriting(t *testing.T) {
	env := newTestEnv(nil)
	farmer := seedFarmer(t, env.store, 1, "2")
	id := env.submit(t, userCtx(1), farmer.ID, models.PracticeTypeSRI, models.VerificationTypeCropStage)

	// another delivery of the same task finishes while this one is analyzing
	low := 10
	env.pipeline.Analyzer = analyzer.Func(func(ctx context.Context, _ analyzer.Request) (*analyzer.Output, error) {
		err := env.store.PatchVerificationAnalysis(ctx, id, models.AnalysisPatch{
			Analysis:     models.AIAnalysis{Confidence: 90, Compliance: true},
			Status:       models.VerificationStatusVerified,
			ExpectStatus: models.VerificationStatusPendingAnalysis,
		})
		if err != nil {
			t.Errorf("concurrent patch: %v", err)
		}
		return &analyzer.Output{Narrative: "late", Confidence: &low}, nil
	})

	if err := env.pipeline.HandleTask(context.Background(), AnalysisTask{RecordId: id}); err != nil {
		t.Fatalf("losing delivery must be acked, got %v", err)
	}
	rec, _ := env.store.GetVerificationRecord(context.Background(), id)
	if rec.Status != models.VerificationStatusVerified || rec.Analysis.Confidence != 90 {
		t.Fatalf("losing delivery overwrote the result: %s/%d", rec.Status, rec.Analysis.Confidence)
	}
}

// Three compliant SRI crop_stage records and one 2 ha SRI crop give one
// credit of 5.0 at confidence 75 worth 75.
func TestEvidenceToCreditScenario(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90, narrative: "Seedlings transplanted at 25cm spacing"})
	farmer := seedFarmer(t, env.store, 1, "3")
	crop := seedCrop(t, env.store, farmer.ID, models.PracticeTypeSRI, "2")
	ctx := userCtx(1)

	node, err := env.community.CreateNode(ctx, models.NewMRVNode{Name: "Delta Co-op", NodeType: models.NodeTypeCommunity})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	var ids []int
	for i := 0; i < 3; i++ {
		ids = append(ids, env.submit(t, ctx, farmer.ID, models.PracticeTypeSRI, models.VerificationTypeCropStage))
	}
	if n := env.queue.Drain(context.Background(), env.pipeline.HandleTask); n != 3 {
		t.Fatalf("expected 3 drained tasks, got %d", n)
	}
	for _, id := range ids {
		rec, _ := env.store.GetVerificationRecord(context.Background(), id)
		if rec.Status != models.VerificationStatusVerified || !rec.Analysis.Compliance {
			t.Fatalf("record %d not verified: %s", id, rec.Status)
		}
	}

	credits, err := env.engine.GenerateCredits(ctx, farmer.ID, 30)
	if err != nil {
		t.Fatalf("generate credits: %v", err)
	}
	if len(credits) != 1 {
		t.Fatalf("expected one credit, got %d", len(credits))
	}
	c := credits[0]
	if !c.Amount.Equal(decimal.RequireFromString("5.0")) {
		t.Fatalf("expected amount 5.0, got %s", c.Amount)
	}
	if c.ConfidenceScore != 75 {
		t.Fatalf("expected confidence 75, got %d", c.ConfidenceScore)
	}
	if !c.EstimatedValue.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected value 75, got %s", c.EstimatedValue)
	}
	if c.CropId == nil || *c.CropId != crop.ID || len(c.EvidenceRecords) != 3 {
		t.Fatalf("unexpected credit links %+v", c)
	}
	if c.Methodology != "VM0042" || c.Status != models.CreditStatusPending {
		t.Fatalf("unexpected credit metadata %+v", c)
	}

	f, _ := env.store.GetFarmer(context.Background(), farmer.ID)
	if !f.TotalCarbonCredits.Equal(decimal.NewFromInt(5)) || !f.PendingCarbonCredits.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("farmer totals not rolled up: %+v", f)
	}
	n, _ := env.store.GetMRVNode(context.Background(), node.ID)
	if !n.TotalCarbonCredits.Equal(decimal.NewFromInt(5)) || n.ConfidenceScore != 75 {
		t.Fatalf("node not rolled up: total=%s confidence=%v", n.TotalCarbonCredits, n.ConfidenceScore)
	}
}

func TestListFarmerVerificationsResolvesImages(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	farmer := seedFarmer(t, env.store, 1, "2")
	ctx := userCtx(1)
	env.submit(t, ctx, farmer.ID, models.PracticeTypeSRI, models.VerificationTypeCropStage)

	records, err := env.pipeline.ListFarmerVerifications(ctx, farmer.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].ImageURL != "https://files.test/evidence/photo.jpg" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestReviewQueueNeedsReviewer(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	if _, err := env.pipeline.ListVerificationsByStatus(userCtx(1), models.VerificationStatusPendingReview, 10); !errors.Is(err, models.ErrOwnership) {
		t.Fatalf("expected ErrOwnership for a farmer, got %v", err)
	}
}
