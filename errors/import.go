package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failed import.
type Kind string

const (
	// KindLoad covers unreadable or malformed CSV and staging setup failures.
	KindLoad Kind = "LoadError"
	// KindMerge covers constraint or transaction failures while upserting.
	KindMerge Kind = "MergeError"
	// KindStore covers an unreachable progress store.
	KindStore Kind = "StoreError"
)

// Sentinels for errors.Is.
var (
	ErrLoad  = &ImportError{Kind: KindLoad}
	ErrMerge = &ImportError{Kind: KindMerge}
	ErrStore = &ImportError{Kind: KindStore}
)

// ImportError is the typed failure an import job reports to its runner.
type ImportError struct {
	Kind  Kind
	JobID string
	Phase string
	Err   error
}

func (e *ImportError) Error() string {
	msg := string(e.Kind)
	if e.Phase != "" {
		msg += " during " + e.Phase
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// Is matches any ImportError of the same kind.
func (e *ImportError) Is(target error) bool {
	t, ok := target.(*ImportError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newImportError(kind Kind, phase string, err error) *ImportError {
	var existing *ImportError
	if stderrors.As(err, &existing) {
		return existing
	}
	return &ImportError{Kind: kind, Phase: phase, Err: err}
}

// LoadError wraps err as a LoadError unless it already is an ImportError.
func LoadError(phase string, err error) *ImportError {
	return newImportError(KindLoad, phase, err)
}

// MergeError wraps err as a MergeError unless it already is an ImportError.
func MergeError(phase string, err error) *ImportError {
	return newImportError(KindMerge, phase, err)
}

// StoreError wraps err as a StoreError unless it already is an ImportError.
func StoreError(phase string, err error) *ImportError {
	return newImportError(KindStore, phase, err)
}
