package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avelkova/taskbus/internal/domain"
	"github.com/avelkova/taskbus/internal/queue"
)

// Processor executes the one business action a dequeued task exists for.
type Processor interface {
	Process(ctx context.Context, task *domain.QueueTask) error
}

// ErrTooManyFailures is returned when the consecutive-failure circuit
// breaker trips. Repeated infrastructure failure is indistinguishable from
// poison-pill looping at this layer, so the loop stops for an operator.
var ErrTooManyFailures = errors.New("too many consecutive worker failures")

// Worker drains the work queue one task at a time: dequeue, process,
// complete or retry. Business failures feed the queue's retry/DLQ policy;
// infrastructure failures feed the circuit breaker.
type Worker struct {
	queue     *queue.WorkQueue
	processor Processor
	logger    *slog.Logger

	failureLimit    int
	idleDelay       time.Duration
	errorDelay      time.Duration
	monitorInterval time.Duration
	monitorBatch    int64
}

func New(q *queue.WorkQueue, p Processor, logger *slog.Logger) *Worker {
	return &Worker{
		queue:           q,
		processor:       p,
		logger:          logger,
		failureLimit:    10,
		idleDelay:       time.Second,
		errorDelay:      2 * time.Second,
		monitorInterval: time.Minute,
		monitorBatch:    5,
	}
}

// Run is the drain loop. It returns ctx.Err() on shutdown or
// ErrTooManyFailures when the circuit breaker trips.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	consecutiveFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopping")
			return err
		}

		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return ctx.Err()
			}
			consecutiveFailures++
			w.logger.Error("dequeue failed",
				"error", err,
				"consecutive_failures", consecutiveFailures,
			)
			if consecutiveFailures >= w.failureLimit {
				w.logger.Error("failure limit reached, stopping worker", "limit", w.failureLimit)
				return ErrTooManyFailures
			}
			if !w.sleep(ctx, w.errorDelay) {
				return ctx.Err()
			}
			continue
		}

		if task == nil {
			// Queue empty; the pop already blocked for its timeout.
			if !w.sleep(ctx, w.idleDelay) {
				return ctx.Err()
			}
			continue
		}

		w.logger.Info("processing task", "task_id", task.TaskID, "retries", task.Retries)

		if err := w.processor.Process(ctx, task); err != nil {
			w.logger.Warn("task failed", "task_id", task.TaskID, "error", err)

			retried, rerr := w.queue.MarkAsRetry(ctx, task)
			if rerr != nil {
				consecutiveFailures++
				w.logger.Error("retry bookkeeping failed",
					"task_id", task.TaskID,
					"error", rerr,
					"consecutive_failures", consecutiveFailures,
				)
				if consecutiveFailures >= w.failureLimit {
					w.logger.Error("failure limit reached, stopping worker", "limit", w.failureLimit)
					return ErrTooManyFailures
				}
				if !w.sleep(ctx, w.errorDelay) {
					return ctx.Err()
				}
				continue
			}

			if !retried {
				w.logger.Error("task dead-lettered", "task_id", task.TaskID)
			}
			consecutiveFailures = 0
			continue
		}

		if err := w.queue.MarkAsCompleted(ctx, task); err != nil {
			consecutiveFailures++
			w.logger.Error("completion bookkeeping failed",
				"task_id", task.TaskID,
				"error", err,
				"consecutive_failures", consecutiveFailures,
			)
			if consecutiveFailures >= w.failureLimit {
				w.logger.Error("failure limit reached, stopping worker", "limit", w.failureLimit)
				return ErrTooManyFailures
			}
			continue
		}

		consecutiveFailures = 0
	}
}

// MonitorDLQ periodically logs the dead-letter backlog. Observability only;
// it never mutates the DLQ.
func (w *Worker) MonitorDLQ(ctx context.Context) {
	w.logger.Info("DLQ monitor started", "interval", w.monitorInterval)

	ticker := time.NewTicker(w.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("DLQ monitor stopping")
			return
		case <-ticker.C:
			items, err := w.queue.DLQItems(ctx, w.monitorBatch)
			if err != nil {
				w.logger.Error("DLQ inspection failed", "error", err)
				continue
			}
			if len(items) == 0 {
				continue
			}
			w.logger.Warn("tasks in DLQ", "count", len(items))
			for _, item := range items {
				w.logger.Warn("DLQ task",
					"task_id", item.TaskID,
					"retries", item.Retries,
					"failed_at", item.FailedAt,
				)
			}
		}
	}
}

// sleep waits d or until ctx is cancelled; false means cancelled.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
