// Package pipeline drives a video through detection, annotation and heatmap
// rendering, recording progress in the tracker and results in the catalog.
//
// Stage order and progress for one job:
//
//	detecting 0 → detect_done 33 → annotating 33 → video_done 66 → heatmap 66 → completed 100
//
// Any unrecoverable error records progress -1 with the error message.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/detect"
	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/heatmap"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/metrics"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/pulse/progress"
	"github.com/teranos/vidscope/storage"
	"github.com/teranos/vidscope/video"
)

// Handler names registered with the worker pool
const (
	HandlerProcess = "vidscope.process"
	HandlerHeatmap = "vidscope.heatmap"
)

// Steps reported to the tracker
const (
	StepDetecting  = "detecting"
	StepDetectDone = "detect_done"
	StepAnnotating = "annotating"
	StepVideoDone  = "video_done"
	StepHeatmap    = "heatmap"
	StepCompleted  = "completed"
)

// Progress checkpoints
const (
	ProgressDetecting = 0
	ProgressDetected  = 33
	ProgressAnnotated = 66
	ProgressCompleted = progress.Done
)

// Catalog is the metadata store the pipeline writes to
type Catalog interface {
	Upsert(ctx context.Context, name string, u catalog.Update) (bool, error)
	Get(ctx context.Context, name string) (*catalog.VideoRecord, error)
}

// Config holds the tunables the pipeline reads per job
type Config struct {
	ScratchDir          string
	IntermediateCodec   string
	IntermediateExt     string
	ConfidenceThreshold float64
}

// Deps are the collaborators a Service needs. Metrics may be nil.
type Deps struct {
	Store      storage.Store
	Catalog    Catalog
	Tracker    *progress.Tracker
	Queue      *async.Queue
	Detector   detect.Detector
	Opener     media.Opener
	Transcoder media.Transcoder
	Renderer   *heatmap.Engine
	Metrics    *metrics.Metrics
	Logger     *zap.SugaredLogger
}

// Service is the entry point for starting jobs and asking about them
type Service struct {
	Deps
	mu  sync.RWMutex
	cfg Config
	log *zap.SugaredLogger
}

// NewService wires a Service
func NewService(deps Deps, cfg Config) *Service {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = detect.DefaultConfidenceThreshold
	}
	if cfg.IntermediateCodec == "" {
		cfg.IntermediateCodec = "mp4v"
	}
	if deps.Renderer == nil {
		deps.Renderer = heatmap.NewEngine(heatmap.DefaultOptions())
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{Deps: deps, cfg: cfg, log: log.Named("pipeline")}
}

// Config returns the current configuration
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfidenceThreshold changes the filter for jobs started afterwards
func (s *Service) SetConfidenceThreshold(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ConfidenceThreshold = v
}

// Start begins processing name. It returns:
//   - ErrAssetNotFound when the source video is missing
//   - a completed state when the video was already processed
//   - the current state when another job already owns it
//   - the freshly claimed state after enqueuing a job
func (s *Service) Start(ctx context.Context, name string) (progress.State, error) {
	if err := video.ValidateName(name); err != nil {
		return progress.State{}, err
	}

	ok, err := s.Store.Exists(ctx, storage.Original, name)
	if err != nil {
		return progress.State{}, errors.Wrapf(err, "check source %s", name)
	}
	if !ok {
		return progress.State{}, errors.WithHint(storage.NotFound(storage.Original, name), "upload the video first")
	}

	rec, err := s.Catalog.Get(ctx, name)
	switch {
	case err == nil && rec.ProcessedVideoPath != nil:
		s.log.Debugw("Already processed", "video", name)
		return completedState(rec), nil
	case err != nil && !errors.IsNotFoundError(err):
		return progress.State{}, errors.Wrapf(err, "look up %s", name)
	}

	st, claimed := s.Tracker.Claim(name, StepDetecting)
	if !claimed {
		s.log.Debugw("Already processing", "video", name, "progress", st.Progress)
		return st, nil
	}

	job, err := async.NewJobWithPayload(HandlerProcess, name, jobPayload{Video: name})
	if err == nil {
		err = s.Queue.Enqueue(job)
	}
	if err != nil {
		s.Tracker.Fail(name, err.Error())
		return progress.State{}, errors.Wrapf(err, "enqueue %s", name)
	}

	s.log.Infow("Processing queued", "video", name, "job_id", job.ID)
	return st, nil
}

// Status reports the tracker's view of name
func (s *Service) Status(ctx context.Context, name string) progress.State {
	return s.Tracker.Get(ctx, name)
}

// Wait polls Status until the job reaches a terminal state or ctx ends
func (s *Service) Wait(ctx context.Context, name string, interval time.Duration) (progress.State, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st := s.Status(ctx, name)
		if st.Status.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HeatmapStatus is the answer to a heatmap request
type HeatmapStatus struct {
	Ready bool   `json:"ready"`
	Path  string `json:"heatmap_path,omitempty"`
	JobID string `json:"job_id,omitempty"`
}

// Heatmap returns the heatmap location for name, backfilling the catalog
// from storage when needed, or queues a job that renders it from stored
// detections.
func (s *Service) Heatmap(ctx context.Context, name string) (HeatmapStatus, error) {
	if err := video.ValidateName(name); err != nil {
		return HeatmapStatus{}, err
	}

	rec, err := s.Catalog.Get(ctx, name)
	if err != nil {
		return HeatmapStatus{}, err
	}
	if rec.HeatmapPath != nil {
		return HeatmapStatus{Ready: true, Path: *rec.HeatmapPath}, nil
	}

	key := video.HeatmapKey(name)
	exists, err := s.Store.Exists(ctx, storage.Heatmaps, key)
	if err != nil {
		return HeatmapStatus{}, errors.Wrapf(err, "check heatmap %s", key)
	}
	if exists {
		path := s.Store.Path(storage.Heatmaps, key)
		if _, err := s.Catalog.Upsert(ctx, name, catalog.Update{HeatmapPath: &path}); err != nil {
			return HeatmapStatus{}, err
		}
		s.log.Infow("Backfilled heatmap path", "video", name, "path", path)
		return HeatmapStatus{Ready: true, Path: path}, nil
	}

	if rec.Metadata == nil {
		return HeatmapStatus{}, errors.NewNotFoundError("no detections recorded for %s, process it first", name)
	}
	if len(video.Flatten(rec.Metadata)) == 0 {
		return HeatmapStatus{}, errors.Wrapf(errors.ErrNoDetections, "heatmap %s", name)
	}

	active, err := s.Queue.FindActiveJobBySourceAndHandler(name, HandlerHeatmap)
	if err != nil {
		return HeatmapStatus{}, err
	}
	if active != nil {
		return HeatmapStatus{JobID: active.ID}, nil
	}

	job, err := async.NewJobWithPayload(HandlerHeatmap, name, jobPayload{Video: name})
	if err != nil {
		return HeatmapStatus{}, err
	}
	if err := s.Queue.Enqueue(job); err != nil {
		return HeatmapStatus{}, err
	}
	s.log.Infow("Heatmap generation queued", "video", name, "job_id", job.ID)
	return HeatmapStatus{JobID: job.ID}, nil
}

// RegisterHandlers adds the pipeline's job handlers to a worker pool registry
func (s *Service) RegisterHandlers(r *async.HandlerRegistry) {
	r.Register(&processHandler{svc: s})
	r.Register(&heatmapHandler{svc: s})
}

type jobPayload struct {
	Video string `json:"video"`
}

func completedState(rec *catalog.VideoRecord) progress.State {
	st := progress.State{
		JobID:     rec.VideoName,
		Status:    progress.StatusCompleted,
		Progress:  progress.Done,
		Step:      StepCompleted,
		UpdatedAt: rec.CreatedAt,
	}
	if rec.ProcessedVideoPath != nil {
		st.ProcessedVideoPath = *rec.ProcessedVideoPath
	}
	if rec.HeatmapPath != nil {
		st.HeatmapPath = *rec.HeatmapPath
	}
	return st
}

func (s *Service) observeStage(stage string, start time.Time) {
	if s.Metrics != nil {
		s.Metrics.ObserveStage(stage, time.Since(start))
	}
}
