package pipeline

import (
	"context"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/pulse/progress"
	"github.com/teranos/vidscope/storage"
)

// processHandler runs the full pipeline for a queued video
type processHandler struct {
	svc *Service
}

func (h *processHandler) Name() string { return HandlerProcess }

func (h *processHandler) Execute(ctx context.Context, job *async.Job) error {
	s := h.svc
	name, err := payloadVideo(job)
	if err != nil {
		return err
	}

	// Jobs recovered after a restart have no tracker entry
	if st, ok := s.Tracker.Peek(name); !ok || st.Status != progress.StatusProcessing {
		s.Tracker.Claim(name, StepDetecting)
	}

	cfg := s.Config()
	em := async.NewJobProgressEmitter(job, s.Queue, s.log)
	jc := NewJobContext(cfg.ScratchDir, name, job.ID, cfg.IntermediateExt)

	err = recovered(func() error { return s.process(ctx, jc, em) })
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// shutdown; the pool re-queues the job
		return err
	}
	s.Tracker.Fail(name, err.Error())
	em.EmitError(job.Stage, err)
	return err
}

// heatmapHandler renders a heatmap from detections already in the catalog
type heatmapHandler struct {
	svc *Service
}

func (h *heatmapHandler) Name() string { return HandlerHeatmap }

func (h *heatmapHandler) Execute(ctx context.Context, job *async.Job) error {
	s := h.svc
	name, err := payloadVideo(job)
	if err != nil {
		return err
	}

	em := async.NewJobProgressEmitter(job, s.Queue, s.log)
	err = recovered(func() error { return s.regenerateHeatmap(ctx, name, job.ID, em) })
	if err != nil && ctx.Err() == nil {
		em.EmitError(job.Stage, err)
	}
	return err
}

func (s *Service) regenerateHeatmap(ctx context.Context, name, jobID string, em *async.JobProgressEmitter) error {
	rec, err := s.Catalog.Get(ctx, name)
	if err != nil {
		return err
	}

	cfg := s.Config()
	jc := NewJobContext(cfg.ScratchDir, name, jobID, cfg.IntermediateExt).WithDetections(rec.Metadata)
	if err := jc.prepare(); err != nil {
		return err
	}
	defer func() {
		if err := jc.cleanup(); err != nil {
			s.log.Warnw("Scratch cleanup failed", "video", name, "dir", jc.Dir, "error", err)
		}
	}()

	em.EmitStage(StepHeatmap, "Downloading source for background")
	if err := s.Store.Download(ctx, storage.Original, name, jc.SourcePath); err != nil {
		return err
	}
	jc, err = s.background(ctx, jc)
	if err != nil {
		return err
	}

	path, err := s.renderHeatmap(ctx, jc)
	if err != nil {
		return err
	}
	s.Tracker.SetArtifacts(name, "", path)
	s.log.Infow("Heatmap regenerated", "video", name, "heatmap_path", path)
	return nil
}

// recovered runs fn and turns a panic into an error, so a crashing
// detector or decoder fails the video like any other error instead of
// leaving it processing.
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	return fn()
}

func payloadVideo(job *async.Job) (string, error) {
	var p jobPayload
	if len(job.Payload) > 0 {
		if err := job.DecodePayload(&p); err != nil {
			return "", err
		}
	}
	if p.Video == "" {
		p.Video = job.Source
	}
	if p.Video == "" {
		return "", errors.NewInvalidRequestError("job %s names no video", job.ID)
	}
	return p.Video, nil
}
