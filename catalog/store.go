// Package catalog persists per-video metadata: the detection list and the
// locations of the annotated video and heatmap.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/video"
)

// VideoRecord is one row of the videos table. Nil fields have not been
// produced yet.
type VideoRecord struct {
	VideoName          string                  `json:"video_name"`
	Metadata           []video.FrameDetections `json:"metadata"`
	ProcessedVideoPath *string                 `json:"processed_video_path"`
	HeatmapPath        *string                 `json:"heatmap_path"`
	CreatedAt          time.Time               `json:"created_at"`
}

// Update is a sparse change: nil fields leave the stored value untouched.
// A non-nil empty Metadata slice records "processed, nothing detected".
type Update struct {
	Metadata           []video.FrameDetections
	ProcessedVideoPath *string
	HeatmapPath        *string
}

// Empty reports whether the update would change nothing
func (u Update) Empty() bool {
	return u.Metadata == nil && u.ProcessedVideoPath == nil && u.HeatmapPath == nil
}

// Sleeper waits between upsert attempts. Tests inject one that returns at once.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Store reads and writes the videos table
type Store struct {
	db       *sql.DB
	logger   *zap.SugaredLogger
	attempts int
	backoff  time.Duration
	sleep    Sleeper
}

// Option configures a Store
type Option func(*Store)

// WithRetry sets the upsert attempt count and fixed backoff
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		s.backoff = backoff
	}
}

// WithSleeper replaces the wait between attempts
func WithSleeper(fn Sleeper) Option {
	return func(s *Store) { s.sleep = fn }
}

// NewStore creates a catalog store. Defaults: 3 attempts, 1s apart.
func NewStore(db *sql.DB, logger *zap.SugaredLogger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Store{
		db:       db,
		logger:   logger,
		attempts: 3,
		backoff:  time.Second,
		sleep:    SleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const upsertQuery = `
	INSERT INTO videos (video_name, metadata, processed_video_path, heatmap_path)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(video_name) DO UPDATE SET
		metadata = COALESCE(excluded.metadata, videos.metadata),
		processed_video_path = COALESCE(excluded.processed_video_path, videos.processed_video_path),
		heatmap_path = COALESCE(excluded.heatmap_path, videos.heatmap_path),
		updated_at = CURRENT_TIMESTAMP
`

// Upsert inserts or sparsely updates the record for name. Any failure is
// retried with a fixed backoff; once attempts are exhausted it returns
// false and an error marked errors.ErrPersistenceFailure. Whether that is
// fatal is the caller's decision.
func (s *Store) Upsert(ctx context.Context, name string, u Update) (bool, error) {
	if err := video.ValidateName(name); err != nil {
		return false, err
	}

	var metadata sql.NullString
	if u.Metadata != nil {
		data, err := json.Marshal(u.Metadata)
		if err != nil {
			return false, errors.Wrapf(err, "encode metadata for %s", name)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	processed := nullString(u.ProcessedVideoPath)
	heatmap := nullString(u.HeatmapPath)

	s.logger.Debugw("Upserting video record",
		"video", name,
		"metadata", u.Metadata != nil,
		"processed_video_path", processed.String,
		"heatmap_path", heatmap.String)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		_, err := s.db.ExecContext(ctx, upsertQuery, name, metadata, processed, heatmap)
		if err == nil {
			return true, nil
		}
		lastErr = err
		s.logger.Warnw("Video record upsert failed",
			"video", name,
			"attempt", attempt,
			"error", err)

		if attempt == s.attempts {
			break
		}
		if err := s.sleep(ctx, s.backoff); err != nil {
			lastErr = errors.CombineErrors(lastErr, err)
			break
		}
	}

	err := errors.Mark(errors.Wrapf(lastErr, "upsert %s", name), errors.ErrPersistenceFailure)
	return false, errors.WithDetailf(err, "attempts: %d", s.attempts)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

const selectColumns = `video_name, metadata, processed_video_path, heatmap_path, created_at`

// Get returns the record for name, or an error wrapping errors.ErrNotFound
func (s *Store) Get(ctx context.Context, name string) (*VideoRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM videos WHERE video_name = ?`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("video %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get video %s", name)
	}
	return rec, nil
}

// List returns all records, newest first
func (s *Store) List(ctx context.Context) ([]*VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM videos ORDER BY created_at DESC, video_name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list videos")
	}
	defer rows.Close()

	var out []*VideoRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan video")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating videos")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*VideoRecord, error) {
	var (
		rec       VideoRecord
		metadata  sql.NullString
		processed sql.NullString
		heatmap   sql.NullString
	)
	if err := row.Scan(&rec.VideoName, &metadata, &processed, &heatmap, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, errors.Wrapf(err, "decode metadata for %s", rec.VideoName)
		}
		if rec.Metadata == nil {
			// "null" stored by an older writer
			rec.Metadata = []video.FrameDetections{}
		}
	}
	if processed.Valid {
		p := processed.String
		rec.ProcessedVideoPath = &p
	}
	if heatmap.Valid {
		h := heatmap.String
		rec.HeatmapPath = &h
	}
	return &rec, nil
}
