package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"product-importer/models"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := in.Item["progress_key"].(*types.AttributeValueMemberS).Value
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := in.Key["progress_key"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func newDynamoStore() (*DynamoProgressStore, *fakeDynamo, *time.Time) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	store := NewDynamoProgressStore(fake, "import_progress")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, fake, &now
}

func TestDynamoProgressStore_RoundTrip(t *testing.T) {
	store, fake, _ := newDynamoStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "job-1", models.NewProgressEvent(models.StatusCopyingCSV)))

	item := fake.items["import_progress:job-1"]
	require.NotNil(t, item)
	assert.Equal(t, "1772370000", item["expires_at"].(*types.AttributeValueMemberN).Value)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCopyingCSV, got.Status)
	assert.Equal(t, 10, got.Percent)
	assert.NotNil(t, got.Meta)
}

func TestDynamoProgressStore_ExpiredItemIsNotFound(t *testing.T) {
	store, _, now := newDynamoStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "job-1", models.NewProgressEvent(models.StatusDone)))

	*now = now.Add(ProgressTTL + time.Second)
	_, err := store.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrProgressNotFound)

	_, err = store.Get(ctx, "never")
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestDynamoProgressStore_ClientErrors(t *testing.T) {
	store, fake, _ := newDynamoStore()
	fake.err = errors.New("ResourceNotFoundException")

	assert.Error(t, store.Set(context.Background(), "job-1", models.NewProgressEvent(models.StatusStarting)))
	_, err := store.Get(context.Background(), "job-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrProgressNotFound)
}
