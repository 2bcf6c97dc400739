package services

import (
	"context"
	"errors"
	"time"

	apperrors "product-importer/errors"
	"product-importer/models"
	"product-importer/repository"

	"go.uber.org/zap"
)

var (
	// ErrProgressExpired means the progress key vanished before a terminal
	// status was seen.
	ErrProgressExpired = errors.New("progress expired before the job finished")
	// ErrProgressUnavailable means no progress was ever published within the
	// wait timeout.
	ErrProgressUnavailable = errors.New("no progress published for job")
)

// DefaultWaitTimeout bounds how long Watch waits on a job that has no progress
// or whose store keeps failing.
const DefaultWaitTimeout = 5 * time.Minute

// ProgressObserver polls the progress store and relays changes.
type ProgressObserver struct {
	store       repository.ProgressStore
	interval    time.Duration
	waitTimeout time.Duration
	logger      *zap.Logger
}

func NewProgressObserver(store repository.ProgressStore, interval, waitTimeout time.Duration, logger *zap.Logger) *ProgressObserver {
	if interval <= 0 || interval > time.Second {
		interval = 500 * time.Millisecond
	}
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	if logger == nil {
		logger = zap.L()
	}
	return &ProgressObserver{store: store, interval: interval, waitTimeout: waitTimeout, logger: logger}
}

// Watch calls emit for the first event and for every event that differs from
// the previous one. It returns nil once a done or error event was emitted, and
// the emit error if emit fails.
func (o *ProgressObserver) Watch(ctx context.Context, jobID string, emit func(models.ProgressEvent) error) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	var last *models.ProgressEvent
	lastRead := time.Now()

	for {
		event, err := o.store.Get(ctx, jobID)
		switch {
		case errors.Is(err, repository.ErrProgressNotFound):
			if last != nil {
				return ErrProgressExpired
			}
			if o.expired(lastRead) {
				return ErrProgressUnavailable
			}
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("progress read failed", zap.String("job_id", jobID), zap.Error(err))
			if o.expired(lastRead) {
				return apperrors.StoreError("observe", err)
			}
		default:
			lastRead = time.Now()
			if last == nil || !last.Equal(*event) {
				if err := emit(*event); err != nil {
					return err
				}
				last = event
			}
			if event.Status.IsTerminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *ProgressObserver) expired(since time.Time) bool {
	return time.Since(since) >= o.waitTimeout
}
