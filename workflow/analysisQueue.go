package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("analysis queue is full")
	ErrQueueClosed = errors.New("analysis queue is stopped")
	// ErrPoisonMessage marks a push payload that can never be processed.
	ErrPoisonMessage = errors.New("malformed analysis message")
)

// AnalysisTask asks for one verification record to be analyzed.
type AnalysisTask struct {
	RecordId      int       `json:"record_id"`
	CorrelationId string    `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

type TaskHandler func(ctx context.Context, task AnalysisTask) error

type Queue interface {
	Enqueue(ctx context.Context, task AnalysisTask) error
}

// LocalQueue is an in-process buffered queue consumed by a fixed worker pool.
// Enqueue never blocks: a full queue is reported and the record is left for
// the pending-analysis sweeper.
type LocalQueue struct {
	Workers int
	Logger  *logrus.Logger

	tasks   chan AnalysisTask
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewLocalQueue(size, workers int, logger *logrus.Logger) *LocalQueue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &LocalQueue{
		Workers: workers,
		Logger:  logger,
		tasks:   make(chan AnalysisTask, size),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, task AnalysisTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		queueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start launches the workers. A dispatched task runs to completion even if
// ctx is cancelled; Stop waits for in-flight tasks.
func (q *LocalQueue) Start(ctx context.Context, handler TaskHandler) {
	taskCtx := context.WithoutCancel(ctx)
	for i := 0; i < q.Workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for task := range q.tasks {
				queueDepth.Dec()
				q.run(taskCtx, handler, task, worker)
			}
		}(i)
	}
}

// Drain runs every buffered task on the calling goroutine and returns how
// many ran. Only for use when the workers are not started.
func (q *LocalQueue) Drain(ctx context.Context, handler TaskHandler) int {
	n := 0
	for {
		select {
		case task, ok := <-q.tasks:
			if !ok {
				return n
			}
			queueDepth.Dec()
			q.run(ctx, handler, task, -1)
			n++
		default:
			return n
		}
	}
}

// Stop rejects new tasks, lets the workers finish what is buffered and waits.
func (q *LocalQueue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *LocalQueue) Len() int {
	return len(q.tasks)
}

func (q *LocalQueue) run(ctx context.Context, handler TaskHandler, task AnalysisTask, worker int) {
	defer func() {
		if r := recover(); r != nil {
			q.logError("run", task, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := handler(ctx, task); err != nil {
		q.logError("run", task, err)
		return
	}
	if q.Logger != nil {
		q.Logger.WithFields(logrus.Fields{
			"field":          "AnalysisQueue",
			"record_id":      task.RecordId,
			"worker":         worker,
			"correlation_id": task.CorrelationId,
			"queued_for":     time.Since(task.EnqueuedAt).String(),
		}).Debug("analysis task done")
	}
}

func (q *LocalQueue) logError(funcName string, task AnalysisTask, err error) {
	if q.Logger == nil {
		return
	}
	config.LogError(q.Logger, "analysisQueue.go", funcName, "analysis task", task, err)
}

// PubSubQueue publishes tasks to the analysis topic; delivery comes back
// through the push endpoint.
type PubSubQueue struct {
	Publish func(ctx context.Context, msg config.AnalysisMessage) (string, error)
	Logger  *logrus.Logger
}

func NewPubSubQueue(logger *logrus.Logger) *PubSubQueue {
	return &PubSubQueue{Publish: config.PublishAnalysisTask, Logger: logger}
}

func (q *PubSubQueue) Enqueue(ctx context.Context, task AnalysisTask) error {
	msgId, err := q.Publish(ctx, config.AnalysisMessage{
		RecordId:      task.RecordId,
		EnqueuedAt:    task.EnqueuedAt,
		CorrelationId: task.CorrelationId,
	})
	if err != nil {
		return fmt.Errorf("publish analysis task %d: %w", task.RecordId, err)
	}
	if q.Logger != nil {
		q.Logger.WithFields(logrus.Fields{
			"field":      "PubSubQueue",
			"record_id":  task.RecordId,
			"message_id": msgId,
		}).Debug("analysis task published")
	}
	return nil
}

// PushEnvelope is the body Pub/Sub posts to a push subscription.
type PushEnvelope struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePushMessage extracts the task from a push body. Anything that can
// never succeed is reported as ErrPoisonMessage so the caller can ack it.
func DecodePushMessage(body []byte) (AnalysisTask, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return AnalysisTask{}, fmt.Errorf("%w: envelope: %v", ErrPoisonMessage, err)
	}
	var msg config.AnalysisMessage
	if err := json.Unmarshal(env.Message.Data, &msg); err != nil {
		return AnalysisTask{}, fmt.Errorf("%w: data: %v", ErrPoisonMessage, err)
	}
	if msg.RecordId <= 0 {
		return AnalysisTask{}, fmt.Errorf("%w: record_id required", ErrPoisonMessage)
	}
	return AnalysisTask{
		RecordId:      msg.RecordId,
		CorrelationId: msg.CorrelationId,
		EnqueuedAt:    msg.EnqueuedAt,
	}, nil
}
