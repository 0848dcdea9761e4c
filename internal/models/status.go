package models

import "time"

// GenerationStatus is the lifecycle state of a request's document generation.
type GenerationStatus string

// Stable values; the status service stores these exact strings.
const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// GenerationStatusRecord is the payload persisted by the status service for
// a request. It is also the Firestore document shape when status is mirrored there.
type GenerationStatusRecord struct {
	RequestID          string           `json:"requestId" firestore:"requestId"`
	Status             GenerationStatus `json:"status" firestore:"status"`
	ConsolidatedPdfURL string           `json:"consolidatedPdfUrl,omitempty" firestore:"consolidatedPdfUrl,omitempty"`
	TiffImageURL       string           `json:"tiffImageUrl,omitempty" firestore:"tiffImageUrl,omitempty"`
	ProcessingTimeMs   *int64           `json:"processingTimeMs" firestore:"processingTimeMs,omitempty"`
	ErrorMessage       *string          `json:"errorMessage" firestore:"errorMessage,omitempty"`
	GeneratedAt        *time.Time       `json:"generatedAt,omitempty" firestore:"generatedAt,omitempty"`
	UpdatedAt          time.Time        `json:"-" firestore:"updatedAt"`
}
