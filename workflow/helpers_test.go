package workflow

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/mrv_backend/analyzer"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func userCtx(userId int) context.Context {
	return utils.SetUserIdInContext(context.Background(), userId)
}

func seedFarmer(t *testing.T, store models.Store, userId int, farmSize string) *models.Farmer {
	t.Helper()
	f := &models.Farmer{
		UserId:   userId,
		Name:     "farmer",
		FarmSize: decimal.RequireFromString(farmSize),
	}
	if err := store.CreateFarmer(context.Background(), f); err != nil {
		t.Fatalf("seed farmer: %v", err)
	}
	return f
}

func seedCrop(t *testing.T, store models.Store, farmerId int, practice models.PracticeType, area string) *models.Crop {
	t.Helper()
	c := &models.Crop{
		FarmerId:     farmerId,
		CropType:     "rice",
		Area:         decimal.RequireFromString(area),
		PracticeType: practice,
		Status:       models.CropStatusPlanted,
	}
	if err := store.CreateCrop(context.Background(), c); err != nil {
		t.Fatalf("seed crop: %v", err)
	}
	return c
}

type fakeFiles struct {
	missing map[string]bool
	err     error
}

func (f *fakeFiles) UploadTarget(_ context.Context, farmerId int, contentType string) (*utils.SignedUpload, error) {
	if contentType != "image/jpeg" {
		return nil, errors.New("unsupported content type")
	}
	key := utils.EvidenceObjectKey(farmerId, "photo.jpg")
	return &utils.SignedUpload{UploadURL: "https://upload.test/" + key, Method: "PUT", ObjectKey: key}, nil
}

func (f *fakeFiles) ResolveURL(_ context.Context, imageRef string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.missing[imageRef] {
		return "", utils.ErrorImageNotFound
	}
	return "https://files.test/" + imageRef, nil
}

// countingAnalyzer answers with a fixed confidence and counts calls.
type countingAnalyzer struct {
	confidence int
	narrative  string
	calls      atomic.Int32
}

func (a *countingAnalyzer) Analyze(_ context.Context, _ analyzer.Request) (*analyzer.Output, error) {
	a.calls.Add(1)
	c := a.confidence
	return &analyzer.Output{Narrative: a.narrative, Confidence: &c}, nil
}

type testEnv struct {
	store     *models.MemoryStore
	queue     *LocalQueue
	pipeline  *VerificationPipeline
	rollups   *Rollups
	engine    *CarbonCreditEngine
	reports   *ComplianceReportBuilder
	community *CommunityService
	farmers   *FarmerService
	sensors   *SensorRecorder
}

func newTestEnv(a analyzer.ImageAnalyzer) *testEnv {
	store := models.NewMemoryStore()
	logger := testLogger()
	queue := NewLocalQueue(64, 1, logger)
	rollups := NewRollups(store, NewLocalLocker(), logger)
	pipeline := NewVerificationPipeline(store, a, &fakeFiles{}, queue, logger)
	pipeline.Timeout = time.Second
	engine := &CarbonCreditEngine{
		Store:          store,
		Rollups:        rollups,
		Logger:         logger,
		Methodology:    "VM0042",
		PricePerCredit: decimal.NewFromInt(15),
		now:            time.Now,
	}
	return &testEnv{
		store:     store,
		queue:     queue,
		pipeline:  pipeline,
		rollups:   rollups,
		engine:    engine,
		reports:   NewComplianceReportBuilder(store, logger),
		community: NewCommunityService(store, rollups, logger),
		farmers:   NewFarmerService(store, rollups, logger),
		sensors:   NewSensorRecorder(store, nil, logger),
	}
}

func (e *testEnv) submit(t *testing.T, ctx context.Context, farmerId int, practice models.PracticeType, vtype models.VerificationType) int {
	t.Helper()
	id, err := e.pipeline.SubmitEvidence(ctx, SubmitEvidenceInput{
		FarmerId:         farmerId,
		PracticeType:     practice,
		VerificationType: vtype,
		ImageRef:         "evidence/photo.jpg",
	})
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	return id
}
