// Package storage is the object-storage boundary. Pipeline stages address
// objects by logical bucket and key; backends map buckets to physical
// locations and return the path string that is recorded in metadata.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/teranos/vidscope/errors"
)

// Bucket is a logical bucket name
type Bucket string

const (
	Original  Bucket = "original"
	Processed Bucket = "processed"
	Heatmaps  Bucket = "heatmaps"
)

// ParseBucket accepts the logical bucket names
func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(strings.ToLower(s)); b {
	case Original, Processed, Heatmaps:
		return b, nil
	}
	return "", errors.NewInvalidRequestError("unknown bucket %q", s)
}

// Content types recorded on upload
const (
	ContentTypeMP4 = "video/mp4"
	ContentTypePNG = "image/png"
)

// ContentTypeFor guesses the content type from a key's extension
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return ContentTypeMP4
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".png":
		return ContentTypePNG
	}
	return "application/octet-stream"
}

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key     string    `json:"name"`
	Size    int64     `json:"size"`
	Updated time.Time `json:"updated"`
}

// Store is implemented by every backend. Missing objects are reported as
// errors.ErrAssetNotFound; failures worth retrying are marked
// errors.ErrTransientStorage.
type Store interface {
	Exists(ctx context.Context, bucket Bucket, key string) (bool, error)
	Download(ctx context.Context, bucket Bucket, key, dst string) error
	Upload(ctx context.Context, bucket Bucket, key, src, contentType string) (string, error)
	UploadBytes(ctx context.Context, bucket Bucket, key string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, bucket Bucket, key string) (io.ReadCloser, error)
	List(ctx context.Context, bucket Bucket) ([]ObjectInfo, error)
	Path(bucket Bucket, key string) string
}

// Names maps logical buckets to physical bucket (or directory) names
type Names struct {
	Original  string
	Processed string
	Heatmaps  string
}

// Resolve returns the physical name for b
func (n Names) Resolve(b Bucket) (string, error) {
	switch b {
	case Original:
		return n.Original, nil
	case Processed:
		return n.Processed, nil
	case Heatmaps:
		return n.Heatmaps, nil
	}
	return "", errors.NewInvalidRequestError("unknown bucket %q", string(b))
}

// NotFound builds the error every backend returns for a missing object
func NotFound(bucket Bucket, key string) error {
	return errors.Wrapf(errors.ErrAssetNotFound, "%s/%s", bucket, key)
}

// Transient marks err as retryable
func Transient(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), errors.ErrTransientStorage)
}
