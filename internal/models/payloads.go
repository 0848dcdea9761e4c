package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// These structs define the JSON bodies returned by the trigger endpoint.

// GeneratedFiles holds the signed URLs of both artifacts.
type GeneratedFiles struct {
	ConsolidatedPdf string `json:"consolidatedPdf"`
	TiffImage       string `json:"tiffImage"`
}

// FileSizes reports the stored artifact sizes.
type FileSizes struct {
	ConsolidatedPdfBytes int64   `json:"consolidatedPdfBytes"`
	ConsolidatedPdfMB    float64 `json:"consolidatedPdfMB"`
	TiffImageBytes       int64   `json:"tiffImageBytes"`
	TiffImageMB          float64 `json:"tiffImageMB"`
}

// StageTiming is the elapsed time of one pipeline stage.
type StageTiming struct {
	Stage   string
	Seconds float64
}

// PerformanceReport lists stage timings in execution order plus the total.
// It marshals to a flat object, {"<stage>": seconds, ..., "total": seconds},
// keeping execution order.
type PerformanceReport struct {
	Stages []StageTiming
	Total  float64
}

func (p PerformanceReport) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, s := range p.Stages {
		key, err := json.Marshal(s.Stage)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(s.Seconds, 'f', 3, 64))
		buf.WriteByte(',')
	}
	buf.WriteString(`"total":`)
	buf.WriteString(strconv.FormatFloat(p.Total, 'f', 3, 64))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ProcessingSuccessResponse is returned with HTTP 200 once both artifacts are stored.
type ProcessingSuccessResponse struct {
	Success          bool              `json:"success"`
	RequestID        string            `json:"requestId"`
	GeneratedFiles   GeneratedFiles    `json:"generatedFiles"`
	FileSizes        FileSizes         `json:"fileSizes"`
	ProcessedAt      string            `json:"processedAt"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
	IsRetry          bool              `json:"isRetry"`
	Folder           string            `json:"folder"`
	Status           GenerationStatus  `json:"status"`
	Performance      PerformanceReport `json:"performance"`
}

// ProcessingErrorResponse is returned with HTTP 400, 409 or 500. Error and
// Details are always sanitized.
type ProcessingErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// CompletionEvent is the argument passed to the downstream workflow once a
// request's documents are stored. Object references are gs:// URIs, never
// signed URLs.
type CompletionEvent struct {
	RequestID       string `json:"requestId"`
	ConsolidatedPdf string `json:"consolidatedPdf"`
	TiffImage       string `json:"tiffImage"`
	Folder          string `json:"folder"`
}
