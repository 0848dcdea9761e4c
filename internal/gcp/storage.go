package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JuampaBiron/tcrs-document-processor/internal/blobstore"
)

const uploadChunkSize = 8 << 20

// GCSStore keeps artifacts in a Cloud Storage bucket.
type GCSStore struct {
	client         *storage.Client
	bucket         string
	googleAccessID string
	uploadTimeout  time.Duration
}

// NewGCSStore wraps client. googleAccessID is the service account used to
// sign URLs; when empty the library discovers it from the credentials.
func NewGCSStore(client *storage.Client, bucket, googleAccessID string, uploadTimeout time.Duration) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &GCSStore{client: client, bucket: bucket, googleAccessID: googleAccessID, uploadTimeout: uploadTimeout}, nil
}

func (s *GCSStore) Bucket() string { return s.bucket }

// Put writes data to object, replacing any existing object. Retries reuse the
// same name, so there is no DoesNotExist precondition here.
func (s *GCSStore) Put(ctx context.Context, object string, data []byte, contentType string) (blobstore.Location, error) {
	loc := blobstore.Location{Scheme: blobstore.SchemeGCS, Bucket: s.bucket, Object: object}
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.ChunkSize = uploadChunkSize
	writer.CacheControl = "private, max-age=0"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		slog.Error("Failed to copy content to GCS object.", "object", object, "error", err)
		return loc, &blobstore.StoreError{Op: "put", Location: loc, Err: mapGCSError(err)}
	}
	if err := writer.Close(); err != nil {
		slog.Error("Failed to close GCS writer.", "object", object, "error", err)
		return loc, &blobstore.StoreError{Op: "put", Location: loc, Err: mapGCSError(err)}
	}
	return loc, nil
}

func (s *GCSStore) Get(ctx context.Context, loc blobstore.Location) ([]byte, error) {
	reader, err := s.client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
	if err != nil {
		return nil, &blobstore.StoreError{Op: "get", Location: loc, Err: mapGCSError(err)}
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &blobstore.StoreError{Op: "get", Location: loc, Err: mapGCSError(err)}
	}
	return data, nil
}

// SignedURL returns a V4 GET URL valid for expiry. A fresh audit id is signed
// into every URL.
func (s *GCSStore) SignedURL(ctx context.Context, loc blobstore.Location, expiry time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        time.Now().Add(expiry),
		GoogleAccessID: s.googleAccessID,
		QueryParameters: url.Values{
			blobstore.NonceParam: {blobstore.NewNonce()},
		},
	}
	signed, err := s.client.Bucket(loc.Bucket).SignedURL(loc.Object, opts)
	if err != nil {
		return "", &blobstore.StoreError{Op: "sign", Location: loc, Err: mapGCSError(err)}
	}
	return signed, nil
}

func mapGCSError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", blobstore.ErrNotFound, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", blobstore.ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", blobstore.ErrPermission, err)
		}
	}
	return err
}
