package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"product-importer/models"

	"github.com/redis/go-redis/v9"
)

const (
	// ProgressKeyPrefix namespaces progress documents in Redis.
	ProgressKeyPrefix = "import_progress:"
	// ProgressTTL is refreshed on every write.
	ProgressTTL = time.Hour
)

// ProgressKey returns the Redis key holding a job's progress.
func ProgressKey(jobID string) string {
	return ProgressKeyPrefix + jobID
}

// RedisProgressStore keeps one JSON document per job with a rolling expiry.
type RedisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProgressStore(client *redis.Client) *RedisProgressStore {
	return &RedisProgressStore{client: client, ttl: ProgressTTL}
}

// Set overwrites the job's event and its expiry in one command.
func (s *RedisProgressStore) Set(ctx context.Context, jobID string, event models.ProgressEvent) error {
	if event.Meta == nil {
		event.Meta = map[string]interface{}{}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if err := s.client.Set(ctx, ProgressKey(jobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write progress for job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisProgressStore) Get(ctx context.Context, jobID string) (*models.ProgressEvent, error) {
	val, err := s.client.Get(ctx, ProgressKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for job %s: %w", jobID, err)
	}

	var event models.ProgressEvent
	if err := json.Unmarshal(val, &event); err != nil {
		return nil, fmt.Errorf("corrupt progress for job %s: %w", jobID, err)
	}
	if event.Meta == nil {
		event.Meta = map[string]interface{}{}
	}
	return &event, nil
}
