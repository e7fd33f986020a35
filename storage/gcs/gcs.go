// Package gcs implements storage.Store on Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/storage"
	"github.com/teranos/vidscope/version"
)

// Config selects the project and credentials
type Config struct {
	ProjectID       string
	CredentialsFile string
	Endpoint        string
	Buckets         storage.Names
}

// Store is a GCS-backed storage.Store
type Store struct {
	client  *gcstorage.Client
	buckets storage.Names
	logger  *zap.SugaredLogger
}

// New opens a GCS client. With no credentials file, application default
// credentials are used.
func New(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Store, error) {
	opts := []option.ClientOption{option.WithUserAgent(version.UserAgent())}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrap(err, "failed to create GCS client"),
			"set storage.gcs.credentials_file or GOOGLE_APPLICATION_CREDENTIALS",
		)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Infow("GCS storage ready",
		"project", cfg.ProjectID,
		"original", cfg.Buckets.Original,
		"processed", cfg.Buckets.Processed,
		"heatmaps", cfg.Buckets.Heatmaps)

	return &Store{client: client, buckets: cfg.Buckets, logger: logger}, nil
}

// Close releases the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) object(b storage.Bucket, key string) (*gcstorage.ObjectHandle, error) {
	name, err := s.buckets.Resolve(b)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(name).Object(key), nil
}

// Path returns gs://<bucket>/<key>
func (s *Store) Path(b storage.Bucket, key string) string {
	name, _ := s.buckets.Resolve(b)
	return "gs://" + name + "/" + key
}

// classify maps GCS errors onto the storage error taxonomy
func classify(err error, b storage.Bucket, key, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gcstorage.ErrObjectNotExist) || errors.Is(err, gcstorage.ErrBucketNotExist) {
		return storage.NotFound(b, key)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return storage.Transient(err, op)
		case apiErr.Code == http.StatusNotFound:
			return storage.NotFound(b, key)
		}
		return errors.Wrapf(err, "%s %s/%s", op, b, key)
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrapf(err, "%s %s/%s", op, b, key)
	}
	// Network-level failures (resets, timeouts) carry no API status
	return storage.Transient(err, op)
}

func (s *Store) Exists(ctx context.Context, b storage.Bucket, key string) (bool, error) {
	obj, err := s.object(b, key)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if err == nil {
		return true, nil
	}
	err = classify(err, b, key, "stat")
	if errors.Is(err, errors.ErrAssetNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Store) Download(ctx context.Context, b storage.Bucket, key, dst string) error {
	rc, err := s.Open(ctx, b, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "create directory for %s", dst)
	}
	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return classify(err, b, key, "download")
	}
	s.logger.Debugw("Downloaded object", "bucket", b, "key", key, "size", n)
	return nil
}

func (s *Store) Upload(ctx context.Context, b storage.Bucket, key, src, contentType string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", errors.Wrapf(err, "open upload source %s", src)
	}
	defer f.Close()
	return s.put(ctx, b, key, f, contentType)
}

func (s *Store) UploadBytes(ctx context.Context, b storage.Bucket, key string, data []byte, contentType string) (string, error) {
	return s.put(ctx, b, key, bytes.NewReader(data), contentType)
}

func (s *Store) put(ctx context.Context, b storage.Bucket, key string, r io.Reader, contentType string) (string, error) {
	obj, err := s.object(b, key)
	if err != nil {
		return "", err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", classify(err, b, key, "upload")
	}
	// The object only exists once Close returns nil
	if err := w.Close(); err != nil {
		return "", classify(err, b, key, "upload")
	}
	return s.Path(b, key), nil
}

func (s *Store) Open(ctx context.Context, b storage.Bucket, key string) (io.ReadCloser, error) {
	obj, err := s.object(b, key)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, classify(err, b, key, "open")
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, b storage.Bucket) ([]storage.ObjectInfo, error) {
	name, err := s.buckets.Resolve(b)
	if err != nil {
		return nil, err
	}
	var out []storage.ObjectInfo
	it := s.client.Bucket(name).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(err, b, "", "list")
		}
		out = append(out, storage.ObjectInfo{Key: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
