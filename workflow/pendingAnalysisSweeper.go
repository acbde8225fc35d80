package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/sirupsen/logrus"
)

// PendingAnalysisSweeper re-enqueues records that have sat in
// pending_analysis longer than StaleAfter, e.g. after a full queue or a
// restart lost the in-process task. The worker skips anything already resolved.
type PendingAnalysisSweeper struct {
	Store     models.Store
	Queue     Queue
	Logger    *logrus.Logger
	SweeperID string

	BatchSize    int
	PollInterval time.Duration
	StaleAfter   time.Duration

	now func() time.Time
}

func NewPendingAnalysisSweeper(store models.Store, queue Queue, logger *logrus.Logger, staleAfter time.Duration) *PendingAnalysisSweeper {
	if logger == nil {
		logger = config.GetLogger()
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &PendingAnalysisSweeper{
		Store:        store,
		Queue:        queue,
		Logger:       logger,
		SweeperID:    uuid.NewString(),
		BatchSize:    100,
		PollInterval: time.Minute,
		StaleAfter:   staleAfter,
		now:          time.Now,
	}
}

func (s *PendingAnalysisSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			config.LogError(s.Logger, "pendingAnalysisSweeper.go", "Run", "SweepOnce", s.SweeperID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

// SweepOnce enqueues one batch of stale records and returns how many were enqueued.
func (s *PendingAnalysisSweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx = systemContext(ctx)
	cutoff := s.clock().UTC().Add(-s.StaleAfter)
	records, err := s.Store.ListVerificationRecordsByStatus(ctx, models.VerificationStatusPendingAnalysis, cutoff, s.BatchSize)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, r := range records {
		task := AnalysisTask{RecordId: r.ID, CorrelationId: "sweep-" + s.SweeperID, EnqueuedAt: s.clock().UTC()}
		if err := s.Queue.Enqueue(ctx, task); err != nil {
			if errors.Is(err, ErrQueueFull) {
				break
			}
			config.LogError(s.Logger, "pendingAnalysisSweeper.go", "SweepOnce", "Enqueue", task, err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.Logger.WithFields(logrus.Fields{
			"field":      "PendingAnalysisSweeper",
			"sweeper_id": s.SweeperID,
			"enqueued":   enqueued,
			"stale":      len(records),
		}).Info("re-enqueued stale analyses")
	}
	return enqueued, nil
}

func (s *PendingAnalysisSweeper) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
