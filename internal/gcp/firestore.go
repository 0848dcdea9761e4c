package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for the status store and the lease.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreStatusStore keeps generation status records in a collection keyed
// by request id.
type FirestoreStatusStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStatusStore(client *firestore.Client, collection string) *FirestoreStatusStore {
	return &FirestoreStatusStore{client: client, collection: collection}
}

// UpdateStatus merges rec into the request's document. Entering processing
// clears the error and URLs of an earlier run.
func (s *FirestoreStatusStore) UpdateStatus(ctx context.Context, rec models.GenerationStatusRecord) error {
	_, err := s.client.Collection(s.collection).Doc(rec.RequestID).Set(ctx, statusUpdates(rec), firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update Firestore status to %s: %w", rec.Status, err)
	}
	return nil
}

// Get reads the stored record for requestID.
func (s *FirestoreStatusStore) Get(ctx context.Context, requestID string) (*models.GenerationStatusRecord, error) {
	snap, err := s.client.Collection(s.collection).Doc(requestID).Get(ctx)
	if err != nil {
		return nil, err
	}
	var rec models.GenerationStatusRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode status for %s: %w", requestID, err)
	}
	return &rec, nil
}

func statusUpdates(rec models.GenerationStatusRecord) map[string]interface{} {
	updates := map[string]interface{}{
		"requestId": rec.RequestID,
		"status":    string(rec.Status),
		"updatedAt": rec.UpdatedAt,
	}
	switch rec.Status {
	case models.StatusProcessing:
		updates["errorMessage"] = firestore.Delete
		updates["consolidatedPdfUrl"] = firestore.Delete
		updates["tiffImageUrl"] = firestore.Delete
		updates["processingTimeMs"] = firestore.Delete
	case models.StatusCompleted:
		updates["consolidatedPdfUrl"] = rec.ConsolidatedPdfURL
		updates["tiffImageUrl"] = rec.TiffImageURL
		updates["errorMessage"] = firestore.Delete
	case models.StatusFailed:
		if rec.ErrorMessage != nil {
			updates["errorMessage"] = *rec.ErrorMessage
		}
	}
	if rec.ProcessingTimeMs != nil {
		updates["processingTimeMs"] = *rec.ProcessingTimeMs
	}
	if rec.GeneratedAt != nil {
		updates["generatedAt"] = *rec.GeneratedAt
	}
	return updates
}
