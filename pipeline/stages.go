package pipeline

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/teranos/vidscope/annotate"
	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/detect"
	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/heatmap"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/storage"
)

// process runs detect, annotate and heatmap for one video. The scratch
// directory is removed whatever the outcome.
func (s *Service) process(ctx context.Context, jc JobContext, em *async.JobProgressEmitter) error {
	if err := jc.prepare(); err != nil {
		return err
	}
	defer func() {
		if err := jc.cleanup(); err != nil {
			s.log.Warnw("Scratch cleanup failed", "video", jc.Video, "dir", jc.Dir, "error", err)
		}
	}()

	jc, err := s.runDetect(ctx, jc, em)
	if err != nil {
		return err
	}
	jc, err = s.runAnnotate(ctx, jc, em)
	if err != nil {
		return err
	}

	em.EmitStage(StepHeatmap, "Rendering heatmap")
	path, err := s.renderHeatmap(ctx, jc)
	if err != nil {
		return err
	}
	s.Tracker.SetArtifacts(jc.Video, "", path)
	s.Tracker.Set(jc.Video, ProgressCompleted, StepCompleted)
	s.log.Infow("Video processed", "video", jc.Video, "job_id", jc.JobID, "heatmap_path", path)
	return nil
}

// runDetect downloads the source, runs the detector over every frame and
// persists the filtered detections. A failed upsert here is fatal.
func (s *Service) runDetect(ctx context.Context, jc JobContext, em *async.JobProgressEmitter) (JobContext, error) {
	start := time.Now()
	em.EmitStage(StepDetecting, "Downloading source")

	if err := s.Store.Download(ctx, storage.Original, jc.Video, jc.SourcePath); err != nil {
		return jc, err
	}
	src, err := s.Opener.Open(jc.SourcePath)
	if err != nil {
		return jc, err
	}
	defer src.Close()

	pass := detect.Pass{
		Detector: s.Detector,
		Filter:   detect.Filter{Threshold: s.Config().ConfidenceThreshold},
		Logger:   s.log,
		OnFrame: func(done, total int) {
			em.EmitProgress(done, total)
			s.Tracker.Set(jc.Video, scale(ProgressDetecting, ProgressDetected, done, total), StepDetecting)
		},
	}
	res, err := pass.Run(ctx, src)
	if err != nil {
		return jc, err
	}
	if s.Metrics != nil {
		s.Metrics.FramesDecoded.Add(float64(res.Decoded))
		s.Metrics.Detections.Add(float64(res.Detections))
	}

	if _, err := s.Catalog.Upsert(ctx, jc.Video, catalog.Update{Metadata: res.Frames}); err != nil {
		return jc, err
	}
	s.Tracker.Set(jc.Video, ProgressDetected, StepDetectDone)
	s.observeStage("detect", start)

	s.log.Infow("Detections stored",
		"video", jc.Video,
		"frames", res.Decoded,
		"frames_with_objects", len(res.Frames),
		"detections", res.Detections)
	return jc.WithDetections(res.Frames), nil
}

// runAnnotate draws the detections, transcodes the result and publishes it
func (s *Service) runAnnotate(ctx context.Context, jc JobContext, em *async.JobProgressEmitter) (JobContext, error) {
	start := time.Now()
	em.EmitStage(StepAnnotating, "Drawing detections")

	cfg := s.Config()
	stage := annotate.Stage{
		Opener:     s.Opener,
		Transcoder: s.Transcoder,
		Codec:      cfg.IntermediateCodec,
		Logger:     s.log,
		OnFrame: func(done, total int) {
			em.EmitProgress(done, total)
			s.Tracker.Set(jc.Video, scale(ProgressDetected, ProgressAnnotated, done, total), StepAnnotating)
		},
	}
	res, err := stage.Run(ctx, annotate.Job{
		Source:       jc.SourcePath,
		Intermediate: jc.IntermediatePath,
		Output:       jc.ProcessedPath,
		Detections:   jc.Detections,
	})
	os.Remove(jc.IntermediatePath)
	if err != nil {
		return jc, err
	}
	if s.Metrics != nil {
		s.Metrics.FramesDecoded.Add(float64(res.Frames))
	}

	path, err := s.Store.Upload(ctx, storage.Processed, jc.ProcessedKey, jc.ProcessedPath, storage.ContentTypeMP4)
	if err != nil {
		return jc, err
	}
	if _, err := s.Catalog.Upsert(ctx, jc.Video, catalog.Update{ProcessedVideoPath: &path}); err != nil {
		return jc, err
	}
	s.Tracker.SetArtifacts(jc.Video, path, "")
	s.Tracker.Set(jc.Video, ProgressAnnotated, StepVideoDone)
	s.observeStage("annotate", start)

	return jc.WithRender(res.Info, res.Background), nil
}

// renderHeatmap composites the detections over the background, uploads the
// PNG and records its path. ErrNoDetections is returned unchanged in meaning.
func (s *Service) renderHeatmap(ctx context.Context, jc JobContext) (string, error) {
	start := time.Now()
	w, h := jc.Size()

	img, err := s.Renderer.Render(jc.Detections, w, h, jc.Background)
	if err != nil {
		return "", errors.Wrapf(err, "heatmap for %s", jc.Video)
	}
	var buf bytes.Buffer
	if err := heatmap.Encode(&buf, img); err != nil {
		return "", err
	}

	path, err := s.Store.UploadBytes(ctx, storage.Heatmaps, jc.HeatmapKey, buf.Bytes(), storage.ContentTypePNG)
	if err != nil {
		return "", err
	}
	if _, err := s.Catalog.Upsert(ctx, jc.Video, catalog.Update{HeatmapPath: &path}); err != nil {
		return "", err
	}
	if s.Metrics != nil {
		s.Metrics.HeatmapsWritten.Inc()
	}
	s.observeStage("heatmap", start)
	return path, nil
}

// background decodes the heatmap background frame from a local copy of
// the source
func (s *Service) background(ctx context.Context, jc JobContext) (JobContext, error) {
	src, err := s.Opener.Open(jc.SourcePath)
	if err != nil {
		return jc, err
	}
	info := src.Info()
	src.Close()

	frame, _, err := media.FrameAt(ctx, s.Opener, jc.SourcePath, media.MidpointIndex(info))
	if err != nil {
		return jc, err
	}
	if info.Width == 0 || info.Height == 0 {
		info.Width, info.Height = frame.Image.Rect.Dx(), frame.Image.Rect.Dy()
	}
	return jc.WithRender(info, frame.Image), nil
}

// scale maps frame progress into [lo, hi). Unknown totals stay at lo.
func scale(lo, hi, done, total int) int {
	if total <= 0 {
		return lo
	}
	p := lo + (hi-lo)*done/total
	if p >= hi {
		p = hi - 1
	}
	return p
}
