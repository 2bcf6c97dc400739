package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"product-importer/models"

	"go.uber.org/zap"
)

// JobRunner runs one import. *Importer satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job models.ImportJob) (*models.ImportResult, error)
}

// WorkerPool tracks the running import workers.
type WorkerPool struct {
	wg sync.WaitGroup
}

// Wait blocks until every worker has stopped.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// StartImportWorkers starts n workers consuming queue until ctx is done.
// Cancelling ctx stops consumption only; a job already handed to runner runs
// to done or error. Uploaded files under storageDir are removed once their job succeeds; a failed
// job keeps its file so it can be rerun.
func StartImportWorkers(ctx context.Context, n int, queue JobQueue, runner JobRunner, storageDir string) *WorkerPool {
	pool := &WorkerPool{}
	if n <= 0 || queue == nil || runner == nil {
		zap.L().Warn("import workers not started", zap.Int("workers", n))
		return pool
	}

	handler := func(ctx context.Context, job models.ImportJob) error {
		result, err := runner.Run(context.WithoutCancel(ctx), job)
		if err != nil {
			return err
		}
		zap.L().Info("import job done",
			zap.String("job_id", job.JobID),
			zap.Int64("rows_upserted", result.RowsUpserted),
			zap.Duration("duration", result.Duration),
		)
		removeUpload(storageDir, job.FilePath)
		return nil
	}

	for i := 0; i < n; i++ {
		pool.wg.Add(1)
		go func(id int) {
			defer pool.wg.Done()
			zap.L().Info("import worker started", zap.Int("worker", id))
			if err := queue.Consume(ctx, handler); err != nil && ctx.Err() == nil {
				zap.L().Error("import worker stopped", zap.Int("worker", id), zap.Error(err))
				return
			}
			zap.L().Info("import worker stopping", zap.Int("worker", id))
		}(i)
	}
	return pool
}

func removeUpload(storageDir, path string) {
	if storageDir == "" || path == "" {
		return
	}
	dir, err := filepath.Abs(storageDir)
	if err != nil {
		return
	}
	file, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(file, dir+string(filepath.Separator)) {
		return
	}
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("failed to remove uploaded file", zap.String("path", file), zap.Error(err))
	}
}
