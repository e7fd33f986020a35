package storage

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/errors"
)

// Retrying wraps a Store and retries calls that fail with ErrTransientStorage.
// Missing objects and invalid requests are returned immediately.
type Retrying struct {
	Store
	attempts int
	backoff  time.Duration
	logger   *zap.SugaredLogger
}

// WithRetry decorates s. attempts < 1 is treated as 1.
func WithRetry(s Store, attempts int, backoff time.Duration, logger *zap.SugaredLogger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Retrying{Store: s, attempts: attempts, backoff: backoff, logger: logger}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, errors.ErrTransientStorage) {
			return err
		}
		if attempt == r.attempts {
			break
		}
		r.logger.Warnw("Transient storage failure, retrying",
			"op", op,
			"attempt", attempt,
			"error", err)
		select {
		case <-ctx.Done():
			return errors.CombineErrors(err, ctx.Err())
		case <-time.After(r.backoff):
		}
	}
	return errors.WithDetailf(err, "%s failed after %d attempts", op, r.attempts)
}

func (r *Retrying) Exists(ctx context.Context, bucket Bucket, key string) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", func() error {
		var err error
		ok, err = r.Store.Exists(ctx, bucket, key)
		return err
	})
	return ok, err
}

func (r *Retrying) Download(ctx context.Context, bucket Bucket, key, dst string) error {
	return r.do(ctx, "download", func() error {
		return r.Store.Download(ctx, bucket, key, dst)
	})
}

func (r *Retrying) Upload(ctx context.Context, bucket Bucket, key, src, contentType string) (string, error) {
	var path string
	err := r.do(ctx, "upload", func() error {
		var err error
		path, err = r.Store.Upload(ctx, bucket, key, src, contentType)
		return err
	})
	return path, err
}

func (r *Retrying) UploadBytes(ctx context.Context, bucket Bucket, key string, data []byte, contentType string) (string, error) {
	var path string
	err := r.do(ctx, "upload", func() error {
		var err error
		path, err = r.Store.UploadBytes(ctx, bucket, key, data, contentType)
		return err
	})
	return path, err
}

func (r *Retrying) Open(ctx context.Context, bucket Bucket, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := r.do(ctx, "open", func() error {
		var err error
		rc, err = r.Store.Open(ctx, bucket, key)
		return err
	})
	return rc, err
}

func (r *Retrying) List(ctx context.Context, bucket Bucket) ([]ObjectInfo, error) {
	var objs []ObjectInfo
	err := r.do(ctx, "list", func() error {
		var err error
		objs, err = r.Store.List(ctx, bucket)
		return err
	})
	return objs, err
}
