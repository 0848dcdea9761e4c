// Package blobstore stores generated artifacts and hands out time-limited
// read URLs for them. GCS lives in internal/gcp; MinIO lives here.
package blobstore

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var ErrLocalSource = errors.New("local file source")

// URI schemes of the two backends.
const (
	SchemeGCS = "gs"
	SchemeS3  = "s3"
)

// Location addresses one object. Scheme names the backend holding it and is
// empty when the reference did not say.
type Location struct {
	Scheme string
	Bucket string
	Object string
}

// String is the object URI, e.g. gs://bucket/object. Locations without a
// scheme print as gs://.
func (l Location) String() string {
	scheme := l.Scheme
	if scheme == "" {
		scheme = SchemeGCS
	}
	return scheme + "://" + l.Bucket + "/" + l.Object
}

// Folder is the object's directory with a trailing slash, or "" for objects
// at the bucket root.
func (l Location) Folder() string {
	dir := path.Dir(l.Object)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}

// Name is the object's file name.
func (l Location) Name() string {
	return path.Base(l.Object)
}

// ParseLocation accepts every form a stored reference shows up in: gs:// and
// s3:// URIs, public and authenticated GCS URLs in path and virtual-hosted
// style, previously signed URLs (the query is dropped), path-style URLs of an
// S3-compatible endpoint and bare object names, which resolve against
// defaultBucket. file:// references return ErrLocalSource.
func ParseLocation(ref, defaultBucket string) (Location, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Location{}, fmt.Errorf("empty object reference")
	}
	if !strings.Contains(ref, "://") {
		return finish("", defaultBucket, ref, ref)
	}

	u, err := url.Parse(ref)
	if err != nil {
		return Location{}, fmt.Errorf("parse object reference: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return Location{}, ErrLocalSource
	case SchemeGCS, SchemeS3:
		return finish(strings.ToLower(u.Scheme), u.Host, u.Path, ref)
	case "http", "https":
	default:
		return Location{}, fmt.Errorf("unsupported object reference scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if bucket, ok := strings.CutSuffix(host, ".storage.googleapis.com"); ok {
		return finish(SchemeGCS, bucket, u.Path, ref)
	}
	bucket, object, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	return finish("", bucket, object, ref)
}

func finish(scheme, bucket, object, ref string) (Location, error) {
	object = strings.TrimPrefix(object, "/")
	if bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return Location{}, fmt.Errorf("object reference %q has no bucket or object name", ref)
	}
	return Location{Scheme: scheme, Bucket: bucket, Object: object}, nil
}
