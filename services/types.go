package services

import (
	"context"
	"time"
)

// MetricsRecorder receives import outcome metrics. *aws.MetricsClient
// satisfies it.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
}

// EventPublisher announces finished imports. *aws.SNSClient satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, message []byte) error
}

// Event types published when a job reaches a terminal state.
const (
	EventImportCompleted = "import.completed"
	EventImportFailed    = "import.failed"
)

// ImportEvent is the payload published for a finished job.
type ImportEvent struct {
	Event        string `json:"event"`
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	RowsUpserted int64  `json:"rows_upserted"`
	Detail       string `json:"detail,omitempty"`
	FinishedAt   string `json:"finished_at"`
}
