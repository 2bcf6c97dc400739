package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type SNSClient struct {
	client   *sns.Client
	topicArn string
}

// NewSNSClient creates a publisher for one topic.
func NewSNSClient(cfg sdkaws.Config, topicArn string) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg), topicArn: topicArn}
}

// Publish sends message to the topic with an event_type attribute so
// subscribers can filter on it.
func (s *SNSClient) Publish(ctx context.Context, eventType string, message []byte) error {
	if s.topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &s.topicArn,
		Message:  sdkaws.String(string(message)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(eventType),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", s.topicArn, err)
	}
	return nil
}
