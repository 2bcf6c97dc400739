package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "product-importer/errors"
	"product-importer/models"
	aws_pkg "product-importer/pkg/aws"
	"product-importer/repository"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const terminalWriteTimeout = 5 * time.Second

// PipelineContext carries the handles a job needs. It is built once by the
// caller and shared by every job the Importer runs.
type PipelineContext struct {
	Progress repository.ProgressStore
	Staging  repository.StagingRepository
	Source   Source
}

func (pc PipelineContext) validate() error {
	switch {
	case pc.Progress == nil:
		return errors.New("pipeline context: progress store is required")
	case pc.Staging == nil:
		return errors.New("pipeline context: staging repository is required")
	case pc.Source == nil:
		return errors.New("pipeline context: file source is required")
	}
	return nil
}

// PhaseOutcome is what a single phase reports back to the importer.
type PhaseOutcome struct {
	Status models.ImportStatus
	Rows   int64
	Err    *apperrors.ImportError
}

// Failed reports whether the phase must stop the job.
func (o PhaseOutcome) Failed() bool {
	return o.Err != nil
}

// Importer runs the staged import state machine for one job at a time per
// call. Concurrent calls are safe as long as job ids differ.
type Importer struct {
	pc       PipelineContext
	validate *validator.Validate
	logger   *zap.Logger
	metrics  MetricsRecorder
	events   EventPublisher
	now      func() time.Time
}

// ImporterOption configures optional collaborators.
type ImporterOption func(*Importer)

// WithLogger sets the importer logger. Defaults to zap.L().
func WithLogger(logger *zap.Logger) ImporterOption {
	return func(im *Importer) { im.logger = logger }
}

// WithMetrics records outcome metrics for every job.
func WithMetrics(m MetricsRecorder) ImporterOption {
	return func(im *Importer) { im.metrics = m }
}

// WithEvents publishes a completion or failure event for every job.
func WithEvents(p EventPublisher) ImporterOption {
	return func(im *Importer) { im.events = p }
}

func NewImporter(pc PipelineContext, opts ...ImporterOption) (*Importer, error) {
	if err := pc.validate(); err != nil {
		return nil, err
	}
	im := &Importer{
		pc:       pc,
		validate: validator.New(),
		logger:   zap.L(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im, nil
}

// jobRun is the per-job state threaded through the phases.
type jobRun struct {
	job     models.ImportJob
	logger  *zap.Logger
	percent int
	result  models.ImportResult
}

type step struct {
	status models.ImportStatus
	run    func(ctx context.Context, r *jobRun) PhaseOutcome
	meta   func(r *jobRun) map[string]interface{}
}

// Run imports job.FilePath into products. The returned error is always an
// *errors.ImportError, and every failure is also published to the progress
// store as an error event. That write is tried once; if the store is still
// down the event is dropped.
func (im *Importer) Run(ctx context.Context, job models.ImportJob) (*models.ImportResult, error) {
	started := im.now()
	r := &jobRun{
		job:    job,
		logger: im.logger.With(zap.String("job_id", job.JobID)),
		result: models.ImportResult{JobID: job.JobID},
	}

	if err := im.validate.Struct(job); err != nil {
		impErr := apperrors.LoadError("validate", fmt.Errorf("invalid import job: %w", err))
		impErr.JobID = job.JobID
		return nil, im.fail(ctx, r, started, impErr)
	}

	r.logger.Info("import started", zap.String("file", job.FilePath), zap.Bool("default_active", job.DefaultActive))

	steps := []step{
		{status: models.StatusStarting},
		{status: models.StatusPreparingStaging, run: im.prepare},
		{status: models.StatusCopyingCSV, run: im.copy},
		{status: models.StatusCopiedToStaging, meta: func(r *jobRun) map[string]interface{} {
			return map[string]interface{}{"rows_staged": r.result.RowsStaged}
		}},
		{status: models.StatusDeduplicating, run: im.deduplicate},
		{status: models.StatusUpserting, run: im.upsert, meta: func(r *jobRun) map[string]interface{} {
			return map[string]interface{}{"duplicates_removed": r.result.DuplicatesRemoved}
		}},
		{status: models.StatusUpsertComplete, meta: func(r *jobRun) map[string]interface{} {
			return map[string]interface{}{"rows_upserted": r.result.RowsUpserted}
		}},
	}

	for _, s := range steps {
		event := models.NewProgressEvent(s.status)
		if s.meta != nil {
			event.Meta = s.meta(r)
		}
		if err := im.publish(ctx, r, event); err != nil {
			return nil, im.fail(ctx, r, started, apperrors.StoreError(string(s.status), err))
		}
		if s.run == nil {
			continue
		}
		if out := s.run(ctx, r); out.Failed() {
			return nil, im.fail(ctx, r, started, out.Err)
		}
	}

	if err := im.pc.Staging.Release(ctx, job.JobID); err != nil {
		r.logger.Warn("failed to release staging table", zap.Error(err))
	}

	done := models.NewProgressEvent(models.StatusDone)
	done.Meta = map[string]interface{}{
		"rows_staged":        r.result.RowsStaged,
		"duplicates_removed": r.result.DuplicatesRemoved,
		"rows_upserted":      r.result.RowsUpserted,
	}
	if err := im.publish(ctx, r, done); err != nil {
		return nil, im.fail(ctx, r, started, apperrors.StoreError(string(models.StatusDone), err))
	}

	r.result.Status = "ok"
	r.result.Duration = im.now().Sub(started)
	im.succeed(ctx, r)
	return &r.result, nil
}

func (im *Importer) prepare(ctx context.Context, r *jobRun) PhaseOutcome {
	out := PhaseOutcome{Status: models.StatusPreparingStaging}
	if err := im.pc.Staging.Prepare(ctx, r.job.JobID); err != nil {
		out.Err = apperrors.LoadError(string(out.Status), err)
	}
	return out
}

func (im *Importer) copy(ctx context.Context, r *jobRun) PhaseOutcome {
	out := PhaseOutcome{Status: models.StatusCopyingCSV}

	file, err := im.pc.Source.Open(ctx, r.job.FilePath)
	if err != nil {
		out.Err = apperrors.LoadError(string(out.Status), err)
		return out
	}
	defer file.Close()

	rows, err := NewCSVRowSource(file)
	if err != nil {
		out.Err = apperrors.LoadError(string(out.Status), err)
		return out
	}

	copied, err := im.pc.Staging.Load(ctx, r.job.JobID, rows)
	if err == nil {
		err = rows.Err()
	}
	if err != nil {
		out.Err = apperrors.LoadError(string(out.Status), err)
		return out
	}

	out.Rows = copied
	r.result.RowsStaged = copied
	r.logger.Info("csv copied to staging", zap.Int64("rows", copied))
	return out
}

func (im *Importer) deduplicate(ctx context.Context, r *jobRun) PhaseOutcome {
	out := PhaseOutcome{Status: models.StatusDeduplicating}
	removed, err := im.pc.Staging.Deduplicate(ctx, r.job.JobID)
	if err != nil {
		out.Err = apperrors.LoadError(string(out.Status), err)
		return out
	}
	out.Rows = removed
	r.result.DuplicatesRemoved = removed
	r.logger.Info("staging deduplicated", zap.Int64("removed", removed))
	return out
}

func (im *Importer) upsert(ctx context.Context, r *jobRun) PhaseOutcome {
	out := PhaseOutcome{Status: models.StatusUpserting}
	affected, err := im.pc.Staging.Upsert(ctx, r.job.JobID, r.job.DefaultActive)
	if err != nil {
		out.Err = apperrors.MergeError(string(out.Status), err)
		return out
	}
	out.Rows = affected
	r.result.RowsUpserted = affected
	r.logger.Info("products upserted", zap.Int64("rows", affected))
	return out
}

// publish writes event, refusing to let the visible percent go backwards.
func (im *Importer) publish(ctx context.Context, r *jobRun, event models.ProgressEvent) error {
	if event.Percent < r.percent {
		event.Percent = r.percent
	}
	if err := im.pc.Progress.Set(ctx, r.job.JobID, event); err != nil {
		return err
	}
	r.percent = event.Percent
	r.logger.Debug("progress", zap.String("status", string(event.Status)), zap.Int("percent", event.Percent))
	return nil
}

func (im *Importer) fail(ctx context.Context, r *jobRun, started time.Time, impErr *apperrors.ImportError) error {
	impErr.JobID = r.job.JobID
	r.logger.Error("import failed",
		zap.String("kind", string(impErr.Kind)),
		zap.String("phase", impErr.Phase),
		zap.Error(impErr.Err),
	)

	// The terminal write must land even if the job context was cancelled.
	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if r.job.JobID != "" {
		if err := im.publish(termCtx, r, models.NewErrorEvent(impErr.Error())); err != nil {
			r.logger.Warn("failed to publish error progress", zap.Error(err))
		}
	}

	im.record(termCtx, aws_pkg.MetricImportsFailed, im.now().Sub(started), string(impErr.Kind), r)
	im.announce(termCtx, ImportEvent{
		Event:  EventImportFailed,
		JobID:  r.job.JobID,
		Status: string(models.StatusError),
		Detail: impErr.Error(),
	})
	return impErr
}

func (im *Importer) succeed(ctx context.Context, r *jobRun) {
	r.logger.Info("import finished",
		zap.Int64("rows_staged", r.result.RowsStaged),
		zap.Int64("duplicates_removed", r.result.DuplicatesRemoved),
		zap.Int64("rows_upserted", r.result.RowsUpserted),
		zap.Duration("duration", r.result.Duration),
	)
	im.record(ctx, aws_pkg.MetricImportsSucceeded, r.result.Duration, "ok", r)
	im.announce(ctx, ImportEvent{
		Event:        EventImportCompleted,
		JobID:        r.job.JobID,
		Status:       string(models.StatusDone),
		RowsUpserted: r.result.RowsUpserted,
	})
}

func (im *Importer) record(ctx context.Context, metric string, d time.Duration, outcome string, r *jobRun) {
	if im.metrics == nil {
		return
	}
	dims := map[string]string{"Outcome": outcome}
	if err := im.metrics.RecordCount(ctx, metric, dims); err != nil {
		im.logger.Debug("failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
	_ = im.metrics.RecordLatency(ctx, aws_pkg.MetricImportDuration, d, dims)
	if r.result.RowsStaged > 0 {
		_ = im.metrics.RecordValue(ctx, aws_pkg.MetricImportRowsStaged, float64(r.result.RowsStaged), dims)
	}
	if r.result.RowsUpserted > 0 {
		_ = im.metrics.RecordValue(ctx, aws_pkg.MetricImportRowsMerged, float64(r.result.RowsUpserted), dims)
	}
}

func (im *Importer) announce(ctx context.Context, event ImportEvent) {
	if im.events == nil {
		return
	}
	event.FinishedAt = im.now().UTC().Format(time.RFC3339)
	body, err := json.Marshal(event)
	if err != nil {
		im.logger.Error("failed to marshal import event", zap.Error(err))
		return
	}
	if err := im.events.Publish(ctx, event.Event, body); err != nil {
		im.logger.Warn("failed to publish import event", zap.String("event", event.Event), zap.Error(err))
	}
}
