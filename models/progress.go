package models

import "reflect"

// ImportStatus is the phase name published for an import job.
type ImportStatus string

const (
	StatusStarting         ImportStatus = "starting"
	StatusPreparingStaging ImportStatus = "preparing_staging_table"
	StatusCopyingCSV       ImportStatus = "copying_csv"
	StatusCopiedToStaging  ImportStatus = "copied_to_staging"
	StatusDeduplicating    ImportStatus = "deduplicating_staging"
	StatusUpserting        ImportStatus = "upserting_products"
	StatusUpsertComplete   ImportStatus = "upsert_complete"
	StatusDone             ImportStatus = "done"
	StatusError            ImportStatus = "error"
)

// phasePercent maps every status to the percent published with it.
var phasePercent = map[ImportStatus]int{
	StatusStarting:         0,
	StatusPreparingStaging: 5,
	StatusCopyingCSV:       10,
	StatusCopiedToStaging:  50,
	StatusDeduplicating:    60,
	StatusUpserting:        75,
	StatusUpsertComplete:   95,
	StatusDone:             100,
	StatusError:            100,
}

// Percent returns the progress percentage associated with the status.
func (s ImportStatus) Percent() int {
	return phasePercent[s]
}

// IsTerminal reports whether no further events follow this status.
func (s ImportStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// ProgressEvent is the document stored under import_progress:{jobId}.
type ProgressEvent struct {
	Percent int                    `json:"percent"`
	Status  ImportStatus           `json:"status"`
	Meta    map[string]interface{} `json:"meta"`
}

// NewProgressEvent builds the event for a status with an empty meta object.
func NewProgressEvent(status ImportStatus) ProgressEvent {
	return ProgressEvent{
		Percent: status.Percent(),
		Status:  status,
		Meta:    map[string]interface{}{},
	}
}

// NewErrorEvent builds the terminal error event carrying meta.detail.
func NewErrorEvent(detail string) ProgressEvent {
	ev := NewProgressEvent(StatusError)
	ev.Meta["detail"] = detail
	return ev
}

// Detail returns meta.detail, or "" when absent.
func (e ProgressEvent) Detail() string {
	if v, ok := e.Meta["detail"].(string); ok {
		return v
	}
	return ""
}

// Equal compares two events by value. A nil and an empty meta are equal.
func (e ProgressEvent) Equal(other ProgressEvent) bool {
	if e.Percent != other.Percent || e.Status != other.Status {
		return false
	}
	if len(e.Meta) == 0 && len(other.Meta) == 0 {
		return true
	}
	return reflect.DeepEqual(e.Meta, other.Meta)
}
