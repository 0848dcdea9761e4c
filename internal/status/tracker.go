// Package status drives the generation status of one request through
// pending -> processing -> completed | failed and persists every transition
// through a Recorder.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
)

var (
	ErrNotStarted        = errors.New("run has not been marked processing")
	ErrAlreadyStarted    = errors.New("run already marked processing")
	ErrAlreadyTerminal   = errors.New("run already reached a terminal status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Recorder persists a status record. Implementations overwrite whatever is
// stored for the request; last writer wins.
type Recorder interface {
	UpdateStatus(ctx context.Context, rec models.GenerationStatusRecord) error
}

// UpdateError is returned when the Recorder rejected a transition. The
// transition itself still counts as made.
type UpdateError struct {
	Status models.GenerationStatus
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("record status %s: %v", e.Status, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// CanTransition reports whether from -> to is allowed. A failed or completed
// request may be processed again.
func CanTransition(from, to models.GenerationStatus) bool {
	switch to {
	case models.StatusProcessing:
		return from == models.StatusPending || from == models.StatusFailed || from == models.StatusCompleted
	case models.StatusCompleted, models.StatusFailed:
		return from == models.StatusProcessing
	default:
		return false
	}
}

// Run is the status of a single invocation. Use Start, then exactly one of
// Complete or Fail.
type Run struct {
	mu        sync.Mutex
	recorder  Recorder
	requestID string
	logger    *slog.Logger
	now       func() time.Time
	state     models.GenerationStatus
	started   bool
}

// NewRun returns a run for requestID. Its assumed starting status is
// pending, or failed when the invocation is a retry.
func NewRun(recorder Recorder, requestID string, isRetry bool, logger *slog.Logger) *Run {
	if logger == nil {
		logger = slog.Default()
	}
	state := models.StatusPending
	if isRetry {
		state = models.StatusFailed
	}
	return &Run{recorder: recorder, requestID: requestID, logger: logger, now: time.Now, state: state}
}

// State returns the last transition made.
func (r *Run) State() models.GenerationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Terminal reports whether Complete or Fail has been called.
func (r *Run) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && r.state != models.StatusProcessing
}

// Start marks the request processing.
func (r *Run) Start(ctx context.Context) error {
	return r.transition(ctx, models.GenerationStatusRecord{
		RequestID: r.requestID,
		Status:    models.StatusProcessing,
	})
}

// Complete marks the request completed with both artifact URLs.
func (r *Run) Complete(ctx context.Context, pdfURL, tiffURL string, elapsed time.Duration) error {
	ms := elapsed.Milliseconds()
	generatedAt := r.now().UTC()
	return r.transition(ctx, models.GenerationStatusRecord{
		RequestID:          r.requestID,
		Status:             models.StatusCompleted,
		ConsolidatedPdfURL: pdfURL,
		TiffImageURL:       tiffURL,
		ProcessingTimeMs:   &ms,
		GeneratedAt:        &generatedAt,
	})
}

// Fail marks the request failed. message must already be sanitized.
func (r *Run) Fail(ctx context.Context, message string, elapsed time.Duration) error {
	ms := elapsed.Milliseconds()
	return r.transition(ctx, models.GenerationStatusRecord{
		RequestID:        r.requestID,
		Status:           models.StatusFailed,
		ProcessingTimeMs: &ms,
		ErrorMessage:     &message,
	})
}

func (r *Run) transition(ctx context.Context, rec models.GenerationStatusRecord) error {
	r.mu.Lock()
	from := r.state
	var err error
	switch {
	case rec.Status == models.StatusProcessing && r.started:
		err = ErrAlreadyStarted
	case rec.Status != models.StatusProcessing && !r.started:
		err = ErrNotStarted
	case r.started && from != models.StatusProcessing:
		err = fmt.Errorf("%w: %s -> %s", ErrAlreadyTerminal, from, rec.Status)
	case !CanTransition(from, rec.Status):
		err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, rec.Status)
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.started = true
	r.state = rec.Status
	r.mu.Unlock()

	rec.UpdatedAt = r.now().UTC()
	logCtx := r.logger.With("requestId", r.requestID, "from", from, "to", rec.Status)
	if err := r.recorder.UpdateStatus(ctx, rec); err != nil {
		logCtx.Error("CRITICAL: Failed to record status transition.", "error", err)
		return &UpdateError{Status: rec.Status, Err: err}
	}
	logCtx.Info("Recorded status transition.")
	return nil
}
