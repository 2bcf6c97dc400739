package repository

import (
	"context"
	"errors"

	"product-importer/models"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrProgressNotFound means no progress is stored for the job: it never
	// started or its retention window elapsed.
	ErrProgressNotFound = errors.New("progress not found")
	// ErrProductNotFound means no product exists for the normalized sku.
	ErrProductNotFound = errors.New("product not found")
)

// ProgressStore publishes and reads the latest ProgressEvent of a job.
type ProgressStore interface {
	Set(ctx context.Context, jobID string, event models.ProgressEvent) error
	Get(ctx context.Context, jobID string) (*models.ProgressEvent, error)
}

// StagingRepository owns the per-job staging area and the merge from it into
// the products table. Every method is a bulk, set-based operation.
type StagingRepository interface {
	// Prepare creates the job's staging area if needed and empties it.
	Prepare(ctx context.Context, jobID string) error
	// Load bulk-copies rows into the staging area and returns the row count.
	Load(ctx context.Context, jobID string, rows pgx.CopyFromSource) (int64, error)
	// Deduplicate keeps only the highest sequence row per normalized sku and
	// returns how many rows were removed.
	Deduplicate(ctx context.Context, jobID string) (int64, error)
	// Upsert merges every staged row into products in one transaction and
	// returns how many products were written.
	Upsert(ctx context.Context, jobID string, active bool) (int64, error)
	// Release drops the staging area.
	Release(ctx context.Context, jobID string) error
}

// ProductRepository is the single-row side of the primary store.
type ProductRepository interface {
	List(ctx context.Context, page, pageSize int) ([]models.Product, int64, error)
	FindBySKU(ctx context.Context, sku string) (*models.Product, error)
	DeleteAll(ctx context.Context) (int64, error)
}
