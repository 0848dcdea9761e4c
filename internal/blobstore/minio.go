package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JuampaBiron/tcrs-document-processor/internal/config"
)

// MinioStore keeps artifacts in an S3-compatible bucket.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	uploadTimeout time.Duration
}

func NewMinIOClient(cfg config.MinIOConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
}

func NewMinioStore(client *minio.Client, bucket string, uploadTimeout time.Duration) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &MinioStore{client: client, bucket: bucket, uploadTimeout: uploadTimeout}, nil
}

func (s *MinioStore) Bucket() string { return s.bucket }

func (s *MinioStore) location(object string) Location {
	return Location{Scheme: SchemeS3, Bucket: s.bucket, Object: object}
}

func (s *MinioStore) Put(ctx context.Context, object string, data []byte, contentType string) (Location, error) {
	loc := s.location(object)
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return loc, &StoreError{Op: "put", Location: loc, Err: mapMinioError(err)}
	}
	return loc, nil
}

func (s *MinioStore) Get(ctx context.Context, loc Location) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Object, minio.GetObjectOptions{})
	if err != nil {
		return nil, &StoreError{Op: "get", Location: loc, Err: mapMinioError(err)}
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, &StoreError{Op: "get", Location: loc, Err: mapMinioError(err)}
	}
	return data, nil
}

// SignedURL presigns a GET. The nonce parameter is part of the signature, so
// every call yields a different URL.
func (s *MinioStore) SignedURL(ctx context.Context, loc Location, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set(NonceParam, NewNonce())
	u, err := s.client.PresignedGetObject(ctx, loc.Bucket, loc.Object, expiry, params)
	if err != nil {
		return "", &StoreError{Op: "sign", Location: loc, Err: err}
	}
	return u.String(), nil
}

func mapMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %v", ErrPermission, err)
	default:
		return err
	}
}
