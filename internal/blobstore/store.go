package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrPermission = errors.New("permission denied")
)

// Store persists artifacts and signs read URLs. Put always overwrites an
// existing object of the same name.
type Store interface {
	Bucket() string
	Put(ctx context.Context, object string, data []byte, contentType string) (Location, error)
	Get(ctx context.Context, loc Location) ([]byte, error)
	SignedURL(ctx context.Context, loc Location, expiry time.Duration) (string, error)
}

// StoreError is returned by Store implementations.
type StoreError struct {
	Op       string // put, get or sign
	Location Location
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Location, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NonceParam is the query parameter that makes every signed URL unique, even
// for the same object and expiry.
const NonceParam = "x-goog-custom-audit-signature-id"

// NewNonce returns a fresh signing nonce.
func NewNonce() string {
	return uuid.NewString()
}
