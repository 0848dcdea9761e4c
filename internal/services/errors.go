package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JuampaBiron/tcrs-document-processor/internal/documents"
)

// Kind classifies where a run failed.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindFetch
	KindRender
	KindConsolidate
	KindRaster
	KindStore
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindFetch:
		return "fetch"
	case KindRender:
		return "render"
	case KindConsolidate:
		return "consolidate"
	case KindRaster:
		return "raster"
	case KindStore:
		return "store"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HTTPStatus is the response code for a failure of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindFetch, KindRender, KindConsolidate, KindRaster, KindStore, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RecordsStatus reports whether a failure of this kind ends in a failed
// status. Validation and conflicts are rejected before the run starts.
func (k Kind) RecordsStatus() bool {
	switch k {
	case KindValidation, KindConflict:
		return false
	default:
		return true
	}
}

// StageError is the failure result of a run. Public is safe to show callers;
// Err carries the full detail and only goes to the logs.
type StageError struct {
	Kind   Kind
	Op     string
	Public string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Public)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StatusMessage is what the failed status record carries: the public
// message plus sanitized detail.
func (e *StageError) StatusMessage() string {
	if e.Err == nil {
		return e.Public
	}
	return Sanitize(e.Public + ": " + e.Err.Error())
}

func stageError(kind Kind, op string, err error) *StageError {
	return &StageError{Kind: kind, Op: op, Public: publicMessage(kind, err), Err: err}
}

func publicMessage(kind Kind, err error) string {
	switch kind {
	case KindValidation:
		return "Invalid request"
	case KindConflict:
		return "Document generation is already in progress for this request"
	case KindFetch:
		return "Failed to fetch request data"
	case KindRender:
		return "Failed to render signature page"
	case KindConsolidate:
		var cerr *documents.ConsolidationError
		if errors.As(err, &cerr) {
			switch cerr.Part {
			case documents.PartSource:
				return "Failed to consolidate documents: source document is corrupt"
			case documents.PartSignature:
				return "Failed to consolidate documents: signature page is corrupt"
			case documents.PartMerged:
				return "Failed to consolidate documents"
			}
		}
		return "Failed to consolidate documents"
	case KindRaster:
		return "Failed to convert document to TIFF"
	case KindStore:
		return "Failed to store generated documents"
	case KindInternal:
		return "Internal processing error"
	default:
		return "Processing failed"
	}
}

// ValidationError builds a 400 failure with a message naming the bad field.
func ValidationError(format string, args ...any) *StageError {
	msg := fmt.Sprintf(format, args...)
	return &StageError{Kind: KindValidation, Op: "validate request", Public: msg, Err: errors.New(msg)}
}
