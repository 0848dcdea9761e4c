package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
	"github.com/JuampaBiron/tcrs-document-processor/internal/services"
)

const (
	ServiceName = "tcrs-document-processor"

	maxBodyBytes     = 1 << 20
	unknownRequestID = "unknown"
)

// Processor runs the generation pipeline for one validated request.
type Processor interface {
	Process(ctx context.Context, req models.ProcessingRequest) (*models.ProcessingSuccessResponse, error)
}

// App carries the handler dependencies.
type App struct {
	Processor Processor
	Now       func() time.Time
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Timestamp: a.now().UTC().Format(time.RFC3339),
		Service:   ServiceName,
	})
}

func (a *App) processDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("Could not read request body", "error", err)
		a.writeError(w, unknownRequestID, services.ValidationError("Request body could not be read"))
		return
	}

	req, err := services.ParseRequest(body)
	if err != nil {
		slog.Warn("Rejected invalid request", "error", err)
		a.writeError(w, unknownRequestID, err)
		return
	}

	res, err := a.Processor.Process(r.Context(), req)
	if err != nil {
		// Already logged with full detail inside Process.
		a.writeError(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeError renders err as a ProcessingErrorResponse. Only validation
// failures carry details; everything else gets the public stage message.
func (a *App) writeError(w http.ResponseWriter, requestID string, err error) {
	resp := models.ProcessingErrorResponse{
		Success:   false,
		Error:     "Internal processing error",
		RequestID: requestID,
		Timestamp: a.now().UTC().Format(time.RFC3339),
	}
	code := http.StatusInternalServerError

	var serr *services.StageError
	if errors.As(err, &serr) {
		code = serr.Kind.HTTPStatus()
		switch serr.Kind {
		case services.KindValidation:
			resp.Error = "Invalid request format"
			resp.Details = services.Sanitize(serr.Public)
		default:
			resp.Error = services.Sanitize(serr.Public)
		}
	}
	writeJSON(w, code, resp)
}
