package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/JuampaBiron/tcrs-document-processor/internal/services"
)

// MessagePublishedData is the payload of a Pub/Sub CloudEvent. Message.Data
// arrives base64 encoded and is decoded by encoding/json.
type MessagePublishedData struct {
	Message struct {
		Data       []byte            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// HandleRetryEvent processes an operator retry published to Pub/Sub. The
// outcome is recorded by the pipeline itself, so the event is always acked:
// redelivery must never turn into an automatic retry loop.
func (a *App) HandleRetryEvent(ctx context.Context, e cloudevents.Event) error {
	logCtx := slog.With("eventId", e.ID(), "eventSource", e.Source())

	var msg MessagePublishedData
	if err := json.Unmarshal(e.Data(), &msg); err != nil {
		logCtx.Error("Failed to unmarshal event data. Dropping message.", "error", err)
		return nil
	}
	logCtx = logCtx.With("messageId", msg.Message.MessageID)

	req, err := services.ParseRequest(msg.Message.Data)
	if err != nil {
		logCtx.Warn("Rejected invalid retry message.", "error", err)
		return nil
	}

	res, err := a.Processor.Process(ctx, req)
	if err != nil {
		logCtx.Error("Retry failed.", "requestId", req.RequestID, "error", err)
		return nil
	}
	logCtx.Info("Retry completed.", "requestId", res.RequestID, "processingTimeMs", res.ProcessingTimeMs)
	return nil
}
