package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"product-importer/models"
	aws_pkg "product-importer/pkg/aws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JobHandler processes one dequeued job.
type JobHandler func(ctx context.Context, job models.ImportJob) error

// JobQueue hands import jobs from the upload intake to the workers.
type JobQueue interface {
	Enqueue(ctx context.Context, job models.ImportJob) error
	// Consume blocks, calling handler for each job, until ctx is done.
	Consume(ctx context.Context, handler JobHandler) error
}

const redisPopTimeout = 5 * time.Second

// RedisJobQueue is a FIFO list. A job is popped before it runs, so a failed
// job is not retried.
type RedisJobQueue struct {
	client *redis.Client
	key    string
}

func NewRedisJobQueue(client *redis.Client, key string) *RedisJobQueue {
	if key == "" {
		key = "import:queue"
	}
	return &RedisJobQueue{client: client, key: key}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job models.ImportJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

func (q *RedisJobQueue) Consume(ctx context.Context, handler JobHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := q.client.BLPop(ctx, redisPopTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("redis BLPop failed", zap.String("queue", q.key), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}

		job, err := decodeJob(res[1])
		if err != nil {
			zap.L().Error("dropping malformed job", zap.String("queue", q.key), zap.Error(err))
			continue
		}
		_ = handler(ctx, job)
	}
}

// SQSTransport is the subset of *aws.SQSClient the queue needs.
type SQSTransport interface {
	SendMessage(ctx context.Context, body string) error
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// SQSJobQueue keeps a message until its job succeeds, so failed jobs are
// redelivered until the queue's redrive policy moves them aside.
type SQSJobQueue struct {
	transport SQSTransport
}

func NewSQSJobQueue(transport SQSTransport) *SQSJobQueue {
	return &SQSJobQueue{transport: transport}
}

func (q *SQSJobQueue) Enqueue(ctx context.Context, job models.ImportJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.transport.SendMessage(ctx, string(body)); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

func (q *SQSJobQueue) Consume(ctx context.Context, handler JobHandler) error {
	return q.transport.StartPolling(ctx, func(ctx context.Context, body string) error {
		job, err := decodeJob(body)
		if err != nil {
			zap.L().Error("dropping malformed job message", zap.Error(err))
			return nil
		}
		return handler(ctx, job)
	})
}

func decodeJob(body string) (models.ImportJob, error) {
	var job models.ImportJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return job, fmt.Errorf("invalid job payload: %w", err)
	}
	if job.JobID == "" {
		return job, errors.New("invalid job payload: missing job_id")
	}
	return job, nil
}
