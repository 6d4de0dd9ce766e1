// Package worker runs the queue-consuming loop that executes fulfillment
// jobs independently of the HTTP request lifecycle.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/topg-traders/backend/internal/fulfillment"
	"github.com/topg-traders/backend/pkg/queue"
)

// Runner dequeues fulfillment jobs and hands them to the processor.
type Runner struct {
	queue       *queue.Queue
	processor   *fulfillment.Processor
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a worker runner. Concurrency bounds how many jobs run
// at once; jobs for the same payment id are still serialized by the
// processing lock, not by this pool.
func NewRunner(q *queue.Queue, p *fulfillment.Processor, concurrency int, logger *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{queue: q, processor: p, concurrency: concurrency, logger: logger}
}

// Run consumes jobs until ctx is cancelled. Jobs that cannot be decoded or
// dispatched go to the dead-letter queue; there is no queue-level retry for
// fulfillment (webhook redelivery is the retry path).
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, r.concurrency)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("fulfillment worker stopping")
			wg.Wait()
			return
		default:
		}

		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return
			}
			r.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.DequeueBackoff)
			continue
		}
		if job == nil {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(job *queue.Job) {
			defer func() { <-sem; wg.Done() }()
			r.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
			if err := r.processor.Process(ctx, job); err != nil {
				r.logger.Error("job unusable", zap.String("job_id", job.ID), zap.Error(err))
				if dlqErr := r.queue.DeadLetter(ctx, job); dlqErr != nil {
					r.logger.Error("dead-letter failed", zap.Error(dlqErr))
				}
			}
		}(job)
	}
}
