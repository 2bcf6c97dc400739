package models

import "time"

// ImportJob is what the upload intake hands to the job runner.
type ImportJob struct {
	JobID         string `json:"job_id" validate:"required,max=128"`
	FilePath      string `json:"file_path" validate:"required"`
	DefaultActive bool   `json:"default_active"`
}

// StagingRow is one CSV data line as held in a job's staging table.
type StagingRow struct {
	SequenceID    int64
	SKU           string
	Name          *string
	Description   *string
	Price         *string
	NormalizedKey string
}

// CopyValues returns the row in staging column order: seq, sku, name,
// description, price. Nil fields are copied as NULL.
func (r StagingRow) CopyValues() []any {
	return []any{r.SequenceID, r.SKU, r.Name, r.Description, r.Price}
}

// ImportResult is returned by a successful import run.
type ImportResult struct {
	JobID             string        `json:"job_id"`
	Status            string        `json:"status"`
	RowsStaged        int64         `json:"rows_staged"`
	DuplicatesRemoved int64         `json:"duplicates_removed"`
	RowsUpserted      int64         `json:"rows_upserted"`
	Duration          time.Duration `json:"duration"`
}
