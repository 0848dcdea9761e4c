package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/JuampaBiron/tcrs-document-processor/internal/status"
)

type leaseDoc struct {
	Holder     string    `firestore:"holder"`
	AcquiredAt time.Time `firestore:"acquiredAt"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
}

// FirestoreLeaser keeps one lease document per request id. An expired lease
// is treated as free, so a crashed invocation blocks retries for at most ttl.
type FirestoreLeaser struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	now        func() time.Time
}

func NewFirestoreLeaser(client *firestore.Client, collection string, ttl time.Duration) *FirestoreLeaser {
	return &FirestoreLeaser{client: client, collection: collection, ttl: ttl, now: time.Now}
}

func (l *FirestoreLeaser) Acquire(ctx context.Context, requestID string) (func(context.Context) error, error) {
	ref := l.client.Collection(l.collection).Doc(requestID)
	holder := uuid.NewString()

	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := l.now().UTC()
		snap, err := tx.Get(ref)
		if err != nil && grpcstatus.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			var cur leaseDoc
			if err := snap.DataTo(&cur); err != nil {
				return err
			}
			if cur.ExpiresAt.After(now) {
				return status.ErrLeaseHeld
			}
		}
		return tx.Set(ref, leaseDoc{Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(l.ttl)})
	})
	if errors.Is(err, status.ErrLeaseHeld) {
		return nil, status.ErrLeaseHeld
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease for %s: %w", requestID, err)
	}

	release := func(ctx context.Context) error {
		return l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(ref)
			if grpcstatus.Code(err) == codes.NotFound {
				return nil
			}
			if err != nil {
				return err
			}
			var cur leaseDoc
			if err := snap.DataTo(&cur); err != nil {
				return err
			}
			if cur.Holder != holder {
				return nil
			}
			return tx.Delete(ref)
		})
	}
	return release, nil
}
