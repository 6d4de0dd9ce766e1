package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueFulfillment is the Redis list key for payment fulfillment jobs.
	QueueFulfillment = "worker:fulfillment"
	// QueueDLQ holds jobs that could not be decoded or dispatched.
	QueueDLQ = "worker:dlq"
	// DequeueBackoff is the pause after a dequeue error before trying again.
	DequeueBackoff = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeFulfillment JobType = "fulfillment"
)

// FulfillmentPayload is the payload for payment fulfillment jobs. It carries
// identifiers only; the processor re-reads all state from the database so a
// stale payload can never override current truth.
type FulfillmentPayload struct {
	RequestID         string    `json:"request_id"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	UserID            uuid.UUID `json:"user_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueFulfillment enqueues a payment fulfillment job.
func (q *Queue) EnqueueFulfillment(ctx context.Context, payload FulfillmentPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeFulfillment,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueFulfillment, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued fulfillment job",
		zap.String("job_id", job.ID),
		zap.String("payment_id", payload.ProviderPaymentID))
	return nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, 0, QueueFulfillment).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload, moving to DLQ", zap.String("raw", result[1]), zap.Error(err))
		_ = q.client.RPush(ctx, QueueDLQ, result[1]).Err()
		return nil, nil
	}
	return &job, nil
}

// DeadLetter pushes a job that cannot be processed to the DLQ. Fulfillment
// jobs are never retried at the queue level: a retry would run without
// holding the processing lock, so webhook redelivery is the only sanctioned
// retry path.
func (q *Queue) DeadLetter(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}
