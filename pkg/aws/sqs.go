package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSClient sends and long-polls messages on one queue
type SQSClient struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSClient creates a client bound to the given queue URL
func NewSQSClient(cfg aws.Config, queueURL string) *SQSClient {
	return &SQSClient{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

// MessageHandler is a function that processes an SQS message body
type MessageHandler func(ctx context.Context, body string) error

// StartPolling polls SQS for messages and processes them with the handler.
// Runs until ctx is cancelled.
func (c *SQSClient) StartPolling(ctx context.Context, handler MessageHandler) error {
	zap.L().Info("sqs polling started", zap.String("queue", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sqs polling stopped", zap.String("queue", c.queueURL))
			return ctx.Err()
		default:
			if err := c.pollOnce(ctx, handler); err != nil && ctx.Err() == nil {
				zap.L().Error("sqs poll failed", zap.Error(err))
			}
		}
	}
}

func (c *SQSClient) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		// An import can run for minutes; the message stays hidden while it does.
		VisibilityTimeout: 900,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		if err := handler(ctx, *msg.Body); err != nil {
			// Left on the queue; it becomes visible again after the timeout and
			// the queue's redrive policy bounds redeliveries.
			zap.L().Warn("sqs message handler failed", zap.Error(err))
			continue
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			zap.L().Error("failed to delete sqs message", zap.Error(err))
		}
	}

	return nil
}

// SendMessage sends a single message to the queue
func (c *SQSClient) SendMessage(ctx context.Context, body string) error {
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &c.queueURL,
		MessageBody: &body,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
