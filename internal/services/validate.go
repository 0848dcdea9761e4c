package services

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
)

var (
	requestIDPattern = regexp.MustCompile(`^\d{12}$`)
	emailPattern     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Accepted trigger timestamp layouts. Zone-less values are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type triggerPayload struct {
	RequestID     *string `json:"requestId"`
	ApproverName  *string `json:"approverName"`
	ApproverEmail *string `json:"approverEmail"`
	Timestamp     *string `json:"timestamp"`
	IsRetry       bool    `json:"isRetry"`
}

// ParseRequest decodes and validates a trigger body. Every failure is a
// KindValidation *StageError naming the offending field.
func ParseRequest(body []byte) (models.ProcessingRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return models.ProcessingRequest{}, ValidationError("Request body is required")
	}
	var p triggerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.ProcessingRequest{}, ValidationError("Invalid JSON in request body")
	}

	for _, f := range []struct {
		name  string
		value *string
	}{
		{"requestId", p.RequestID},
		{"approverName", p.ApproverName},
		{"approverEmail", p.ApproverEmail},
		{"timestamp", p.Timestamp},
	} {
		if f.value == nil || strings.TrimSpace(*f.value) == "" {
			return models.ProcessingRequest{}, ValidationError("Missing required field: %s", f.name)
		}
	}

	req := models.ProcessingRequest{
		RequestID:     strings.TrimSpace(*p.RequestID),
		ApproverName:  strings.TrimSpace(*p.ApproverName),
		ApproverEmail: strings.TrimSpace(*p.ApproverEmail),
		IsRetry:       p.IsRetry,
	}
	if err := ValidateRequest(req); err != nil {
		return models.ProcessingRequest{}, err
	}

	ts, ok := parseTimestamp(strings.TrimSpace(*p.Timestamp))
	if !ok {
		return models.ProcessingRequest{}, ValidationError("Invalid timestamp format: expected ISO-8601")
	}
	req.Timestamp = ts
	return req, nil
}

// ValidateRequest checks the field formats of an already decoded request.
func ValidateRequest(req models.ProcessingRequest) error {
	if !requestIDPattern.MatchString(req.RequestID) {
		return ValidationError("Invalid request ID format: expected 12 digits")
	}
	if n := utf8.RuneCountInString(req.ApproverName); n < 1 || n > 100 {
		return ValidationError("Invalid approver name: must be 1 to 100 characters")
	}
	if !emailPattern.MatchString(req.ApproverEmail) {
		return ValidationError("Invalid approver email format")
	}
	return nil
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
