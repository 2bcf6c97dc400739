package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "product-importer/errors"
	"product-importer/logger"
	"product-importer/models"
	"product-importer/repository"
	"product-importer/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxUploadSize         = 512 * 1024 * 1024
	DefaultContextTimeout = 30 * time.Second
)

// ImportController accepts CSV uploads and reports import progress.
type ImportController struct {
	queue    services.JobQueue
	uploads  services.UploadStore
	progress repository.ProgressStore
	observer *services.ProgressObserver
	validate *validator.Validate
	timeout  time.Duration
}

func NewImportController(queue services.JobQueue, uploads services.UploadStore, progress repository.ProgressStore, observer *services.ProgressObserver) *ImportController {
	return &ImportController{
		queue:    queue,
		uploads:  uploads,
		progress: progress,
		observer: observer,
		validate: validator.New(),
		timeout:  DefaultContextTimeout,
	}
}

// Upload stores the file, queues an import and answers with its task id.
func (h *ImportController) Upload(c *gin.Context) {
	file, err := h.uploadedFile(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	active, err := strconv.ParseBool(c.DefaultPostForm("active", "true"))
	if err != nil {
		_ = c.Error(apperrors.New(http.StatusBadRequest, "active must be a boolean", err))
		return
	}

	body, err := file.Open()
	if err != nil {
		_ = c.Error(apperrors.ErrInternalServer.Wrap(err))
		return
	}
	defer body.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	log := logger.FromContext(c)

	jobID := uuid.NewString()
	path, err := h.uploads.Save(ctx, jobID, body)
	if err != nil {
		log.Error("failed to store upload", zap.String("job_id", jobID), zap.Error(err))
		_ = c.Error(apperrors.ErrInternalServer.Wrap(err))
		return
	}

	job := models.ImportJob{JobID: jobID, FilePath: path, DefaultActive: active}
	if err := h.validate.Struct(job); err != nil {
		_ = c.Error(apperrors.ErrInternalServer.Wrap(err))
		return
	}

	// Seeded so status and stream requests find the job before a worker picks it up.
	if err := h.progress.Set(ctx, jobID, models.NewProgressEvent(models.StatusStarting)); err != nil {
		log.Warn("failed to seed progress", zap.String("job_id", jobID), zap.Error(err))
	}

	if err := h.queue.Enqueue(ctx, job); err != nil {
		log.Error("failed to enqueue import", zap.String("job_id", jobID), zap.Error(err))
		_ = c.Error(apperrors.ErrServiceUnavailable.Wrap(err))
		return
	}

	log.Info("import queued",
		zap.String("job_id", jobID),
		zap.String("file", file.Filename),
		zap.Int64("size", file.Size),
		zap.Bool("active", active),
	)
	c.JSON(http.StatusAccepted, gin.H{"task_id": jobID})
}

// Status returns the latest progress event of a job.
func (h *ImportController) Status(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	event, err := h.progress.Get(ctx, id)
	if errors.Is(err, repository.ErrProgressNotFound) {
		_ = c.Error(apperrors.New(http.StatusNotFound, "Import not found", err))
		return
	}
	if err != nil {
		_ = c.Error(apperrors.ErrServiceUnavailable.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, event)
}

// StreamProgress relays progress changes as server-sent events until the job
// finishes or the client goes away.
func (h *ImportController) StreamProgress(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	err := h.observer.Watch(c.Request.Context(), id, func(event models.ProgressEvent) error {
		return writeEvent(c, "", event)
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, services.ErrProgressExpired), errors.Is(err, services.ErrProgressUnavailable):
		_ = writeEvent(c, "end", gin.H{"error": err.Error()})
	default:
		logger.FromContext(c).Warn("progress stream aborted", zap.String("job_id", id), zap.Error(err))
		_ = writeEvent(c, "end", gin.H{"error": "progress unavailable"})
	}
}

func writeEvent(c *gin.Context, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", body); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func (h *ImportController) uploadedFile(c *gin.Context) (*multipart.FileHeader, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, apperrors.New(http.StatusBadRequest, "file is required", err)
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".csv") {
		return nil, apperrors.New(http.StatusBadRequest, "Only CSV files allowed", nil)
	}
	if file.Size > MaxUploadSize {
		return nil, apperrors.New(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d MB", MaxUploadSize/(1024*1024)), nil)
	}
	return file, nil
}
