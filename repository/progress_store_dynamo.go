package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"product-importer/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoAPI is the subset of *dynamodb.Client the progress store needs.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// ddbProgress is one progress document. The table's TTL attribute must be
// expires_at; DynamoDB deletes lazily, so reads check it too.
type ddbProgress struct {
	Key       string `dynamodbav:"progress_key"`
	Document  string `dynamodbav:"document"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoProgressStore keeps progress in a DynamoDB table keyed like the Redis
// store and expiring after the same window.
type DynamoProgressStore struct {
	client DynamoAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

func NewDynamoProgressStore(client DynamoAPI, table string) *DynamoProgressStore {
	return &DynamoProgressStore{client: client, table: table, ttl: ProgressTTL, now: time.Now}
}

func (s *DynamoProgressStore) Set(ctx context.Context, jobID string, event models.ProgressEvent) error {
	if event.Meta == nil {
		event.Meta = map[string]interface{}{}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	item, err := attributevalue.MarshalMap(ddbProgress{
		Key:       ProgressKey(jobID),
		Document:  string(payload),
		ExpiresAt: s.now().Add(s.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal progress item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.table, Item: item}); err != nil {
		return fmt.Errorf("failed to write progress for job %s: %w", jobID, err)
	}
	return nil
}

func (s *DynamoProgressStore) Get(ctx context.Context, jobID string) (*models.ProgressEvent, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"progress_key": ProgressKey(jobID)})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	consistent := true
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            key,
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for job %s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrProgressNotFound
	}

	var item ddbProgress
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal progress item: %w", err)
	}
	if item.ExpiresAt <= s.now().Unix() {
		return nil, ErrProgressNotFound
	}

	var event models.ProgressEvent
	if err := json.Unmarshal([]byte(item.Document), &event); err != nil {
		return nil, fmt.Errorf("corrupt progress for job %s: %w", jobID, err)
	}
	if event.Meta == nil {
		event.Meta = map[string]interface{}{}
	}
	return &event, nil
}
