package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/mrv_backend/analyzer"
	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const reviewQueueLimit = 50

// FileStore resolves evidence image references and hands out upload targets.
type FileStore interface {
	UploadTarget(ctx context.Context, farmerId int, contentType string) (*utils.SignedUpload, error)
	ResolveURL(ctx context.Context, imageRef string) (string, error)
}

// VerificationPipeline owns the lifecycle of a verification record:
// pending_analysis until exactly one analysis attempt resolves it.
type VerificationPipeline struct {
	Store    models.Store
	Analyzer analyzer.ImageAnalyzer
	Files    FileStore
	Queue    Queue
	Logger   *logrus.Logger
	// upper bound on a single analyzer call
	Timeout time.Duration

	now func() time.Time
}

func NewVerificationPipeline(store models.Store, a analyzer.ImageAnalyzer, files FileStore, queue Queue, logger *logrus.Logger) *VerificationPipeline {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &VerificationPipeline{
		Store:    store,
		Analyzer: a,
		Files:    files,
		Queue:    queue,
		Logger:   logger,
		Timeout:  30 * time.Second,
		now:      time.Now,
	}
}

type SubmitEvidenceInput struct {
	FarmerId         int                     `json:"-"`
	CropId           *int                    `json:"crop_id"`
	PracticeType     models.PracticeType     `json:"practice_type" validate:"required"`
	VerificationType models.VerificationType `json:"verification_type" validate:"required"`
	ImageRef         string                  `json:"image_ref" validate:"required,max=255"`
	Location         models.GeoPoint         `json:"location"`
	Notes            string                  `json:"notes" validate:"max=2000"`
}

// SubmitEvidence stores a new record in pending_analysis and enqueues its
// analysis. It returns as soon as the record exists.
func (p *VerificationPipeline) SubmitEvidence(ctx context.Context, input SubmitEvidenceInput) (int, error) {
	ctx, span := tracer.Start(ctx, "VerificationPipeline.SubmitEvidence")
	defer span.End()

	ctx, _, err := authorizeFarmer(ctx, p.Store, input.FarmerId)
	if err != nil {
		return 0, err
	}
	if !input.PracticeType.IsValid() || !input.VerificationType.IsValid() {
		return 0, fmt.Errorf("%w: unknown practice or verification type", models.ErrInvalidInput)
	}
	imageRef := strings.TrimSpace(input.ImageRef)
	if imageRef == "" {
		return 0, fmt.Errorf("%w: image reference required", models.ErrInvalidInput)
	}
	if input.CropId != nil {
		crop, err := p.Store.GetCrop(ctx, *input.CropId)
		if err != nil {
			return 0, err
		}
		if crop.FarmerId != input.FarmerId {
			return 0, models.ErrOwnership
		}
	}

	record := &models.VerificationRecord{
		FarmerId:         input.FarmerId,
		CropId:           input.CropId,
		PracticeType:     input.PracticeType,
		VerificationType: input.VerificationType,
		ImageRef:         imageRef,
		Location:         input.Location,
		Timestamp:        p.clock().UTC(),
		Analysis: models.AIAnalysis{
			Findings: []string{},
		},
		Status: models.VerificationStatusPendingAnalysis,
		Notes:  input.Notes,
	}
	if err := p.Store.CreateVerificationRecord(ctx, record); err != nil {
		return 0, err
	}
	evidenceSubmitted.Inc()
	span.SetAttributes(attribute.Int("record_id", record.ID))

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	task := AnalysisTask{RecordId: record.ID, CorrelationId: correlationId, EnqueuedAt: p.clock().UTC()}
	if err := p.Queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		// the record stays pending; the sweeper picks it up
		config.LogError(p.Logger, "verificationWorkflow.go", "SubmitEvidence", "Enqueue", task, err)
	}
	return record.ID, nil
}

// HandleTask is the queue consumer. Records that already left
// pending_analysis are skipped so a redelivered task cannot overwrite a result.
func (p *VerificationPipeline) HandleTask(ctx context.Context, task AnalysisTask) error {
	ctx = systemContext(ctx)
	if task.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, task.CorrelationId)
	}
	record, err := p.Store.GetVerificationRecord(ctx, task.RecordId)
	if err != nil {
		return fmt.Errorf("verification record %d: %w", task.RecordId, err)
	}
	if record.Status != models.VerificationStatusPendingAnalysis {
		p.Logger.WithFields(logrus.Fields{
			"field":     "HandleTask",
			"record_id": record.ID,
			"status":    record.Status,
		}).Info("skipping analysis for resolved record")
		return nil
	}
	// a second delivery of the same record may still be in flight
	err = p.analyze(ctx, record, models.VerificationStatusPendingAnalysis)
	if errors.Is(err, models.ErrAlreadyResolved) {
		p.Logger.WithFields(logrus.Fields{
			"field":     "HandleTask",
			"record_id": record.ID,
		}).Info("record resolved by a concurrent task")
		return nil
	}
	return err
}

// RunAnalysis analyzes a record and applies the result, whatever its current
// status. Analyzer failures resolve into the fallback result; only a missing
// record or image and store errors are returned.
func (p *VerificationPipeline) RunAnalysis(ctx context.Context, recordId int) error {
	ctx = systemContext(ctx)
	record, err := p.Store.GetVerificationRecord(ctx, recordId)
	if err != nil {
		return fmt.Errorf("verification record %d: %w", recordId, err)
	}
	return p.analyze(ctx, record, "")
}

// analyze resolves the image, calls the analyzer and applies the result. A
// non-empty expect makes the write conditional on the record's current status.
func (p *VerificationPipeline) analyze(ctx context.Context, record *models.VerificationRecord, expect models.VerificationStatus) error {
	ctx, span := tracer.Start(ctx, "VerificationPipeline.RunAnalysis")
	defer span.End()
	span.SetAttributes(attribute.Int("record_id", record.ID))
	started := p.clock()
	defer func() { analysisDuration.Observe(time.Since(started).Seconds()) }()

	imageURL, err := p.Files.ResolveURL(ctx, record.ImageRef)
	if err == nil && imageURL == "" {
		err = utils.ErrorImageNotFound
	}
	if errors.Is(err, utils.ErrorImageNotFound) {
		analysisFallbacks.WithLabelValues("missing_image").Inc()
		if perr := p.apply(ctx, record.ID, expect, FallbackResult(MissingImageFinding)); perr != nil {
			return perr
		}
		span.SetStatus(codes.Error, "image not found")
		return fmt.Errorf("image %q of record %d: %w", record.ImageRef, record.ID, models.ErrNotFound)
	}

	var result PolicyResult
	if err != nil {
		config.LogError(p.Logger, "verificationWorkflow.go", "analyze", "ResolveURL", record.ID, err)
		analysisFallbacks.WithLabelValues("resolve").Inc()
		result = FallbackResult(FallbackFinding)
	} else {
		out, aerr := p.callAnalyzer(ctx, analyzer.Request{
			ImageURL:         imageURL,
			PracticeType:     record.PracticeType,
			VerificationType: record.VerificationType,
		})
		if aerr == nil {
			result, aerr = EvaluateAnalysis(out)
		}
		if aerr != nil {
			config.LogError(p.Logger, "verificationWorkflow.go", "analyze", "Analyze", record.ID, aerr)
			analysisFallbacks.WithLabelValues(fallbackReason(aerr)).Inc()
			result = FallbackResult(FallbackFinding)
		}
	}

	if err := p.apply(ctx, record.ID, expect, result); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *VerificationPipeline) apply(ctx context.Context, recordId int, expect models.VerificationStatus, result PolicyResult) error {
	err := p.Store.PatchVerificationAnalysis(ctx, recordId, models.AnalysisPatch{
		Analysis:     result.Analysis,
		Status:       result.Status,
		ExpectStatus: expect,
	})
	if errors.Is(err, models.ErrAlreadyResolved) {
		return err
	}
	if err != nil {
		config.LogError(p.Logger, "verificationWorkflow.go", "apply", "PatchVerificationAnalysis", recordId, err)
		return err
	}
	analysisOutcomes.WithLabelValues(string(result.Status)).Inc()
	p.Logger.WithFields(logrus.Fields{
		"field":      "RunAnalysis",
		"record_id":  recordId,
		"status":     result.Status,
		"confidence": result.Analysis.Confidence,
	}).Info("verification analyzed")
	return nil
}

// callAnalyzer bounds the analyzer call by Timeout even when the analyzer
// ignores its context. Errors and panics come back as ErrAnalysisFailure.
func (p *VerificationPipeline) callAnalyzer(ctx context.Context, req analyzer.Request) (*analyzer.Output, error) {
	if p.Analyzer == nil {
		return nil, fmt.Errorf("%w: no analyzer configured", ErrAnalysisFailure)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		out *analyzer.Output
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("analyzer panic: %v", r)}
			}
		}()
		out, err := p.Analyzer.Analyze(actx, req)
		done <- reply{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAnalysisFailure, r.err)
		}
		return r.out, nil
	case <-actx.Done():
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailure, actx.Err())
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrAnalysisFailure):
		return "analyzer"
	default:
		return "other"
	}
}

// ListFarmerVerifications returns the farmer's records newest first with
// image URLs resolved where possible.
func (p *VerificationPipeline) ListFarmerVerifications(ctx context.Context, farmerId int) ([]models.VerificationRecord, error) {
	ctx, _, err := authorizeFarmer(ctx, p.Store, farmerId)
	if err != nil {
		return nil, err
	}
	records, err := p.Store.ListVerificationRecords(ctx, models.VerificationQuery{FarmerId: farmerId})
	if err != nil {
		return nil, err
	}
	for i := range records {
		url, err := p.Files.ResolveURL(ctx, records[i].ImageRef)
		if err != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":     "ListFarmerVerifications",
				"record_id": records[i].ID,
				"error":     err.Error(),
			}).Debug("image url not resolved")
			continue
		}
		records[i].ImageURL = url
	}
	return records, nil
}

// ListVerificationsByStatus is the review queue: oldest first, at most 50.
// Reviewers and admins only.
func (p *VerificationPipeline) ListVerificationsByStatus(ctx context.Context, status models.VerificationStatus, limit int) ([]models.VerificationRecord, error) {
	if !isReviewer(ctx) {
		return nil, models.ErrOwnership
	}
	if limit <= 0 || limit > reviewQueueLimit {
		limit = reviewQueueLimit
	}
	return p.Store.ListVerificationRecordsByStatus(systemContext(ctx), status, time.Time{}, limit)
}

func (p *VerificationPipeline) CreateUploadTarget(ctx context.Context, farmerId int, contentType string) (*utils.SignedUpload, error) {
	ctx, _, err := authorizeFarmer(ctx, p.Store, farmerId)
	if err != nil {
		return nil, err
	}
	target, err := p.Files.UploadTarget(ctx, farmerId, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return target, nil
}

// LatestSatelliteData returns the satellite data of the farmer's newest record
// that carries any, or nil.
func (p *VerificationPipeline) LatestSatelliteData(ctx context.Context, farmerId int) (*models.SatelliteData, error) {
	ctx, _, err := authorizeFarmer(ctx, p.Store, farmerId)
	if err != nil {
		return nil, err
	}
	records, err := p.Store.ListVerificationRecords(ctx, models.VerificationQuery{FarmerId: farmerId})
	if err != nil {
		return nil, err
	}
	for i := range records {
		if !records[i].SatelliteData.IsEmpty() {
			data := records[i].SatelliteData
			return &data, nil
		}
	}
	return nil, nil
}

func (p *VerificationPipeline) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

func isReviewer(ctx context.Context) bool {
	role, _ := utils.GetUserRoleFromContext(ctx)
	return role == RoleReviewer || role == RoleAdmin
}

const (
	RoleFarmer   = "farmer"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)
