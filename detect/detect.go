// Package detect runs an object detector over every frame of a video and
// keeps the detections worth storing.
package detect

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/video"
)

// DefaultConfidenceThreshold is the minimum confidence a detection needs to be kept
const DefaultConfidenceThreshold = 0.3

// Detector finds labelled boxes in one frame. Implementations return every
// candidate; thresholding is the caller's job.
type Detector interface {
	Detect(ctx context.Context, f *media.Frame) ([]video.Detection, error)
}

// Filter drops detections below a confidence threshold
type Filter struct {
	Threshold float64
}

// Apply returns the detections with confidence >= Threshold. The result is
// nil when nothing survives.
func (f Filter) Apply(dets []video.Detection) []video.Detection {
	var out []video.Detection
	for _, d := range dets {
		if d.Confidence >= f.Threshold {
			out = append(out, d)
		}
	}
	return out
}

// ProgressFunc is called after each decoded frame. total is 0 when the
// container does not report a frame count.
type ProgressFunc func(done, total int)

// Pass decodes a source frame by frame and collects filtered detections
type Pass struct {
	Detector Detector
	Filter   Filter
	Logger   *zap.SugaredLogger
	OnFrame  ProgressFunc
}

// Result is the outcome of one pass
type Result struct {
	Frames     []video.FrameDetections
	Decoded    int
	Detections int
	Duration   time.Duration
}

// Run consumes src until EOF. Frames with nothing above the threshold are
// omitted; Frames is never nil so an empty pass can be told apart from one
// that never ran.
func (p *Pass) Run(ctx context.Context, src media.Source) (*Result, error) {
	start := time.Now()
	total := src.Info().FrameCount
	res := &Result{Frames: []video.FrameDetections{}}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "decode frame %d", res.Decoded), errors.ErrDecodeFailure)
		}

		dets, err := p.Detector.Detect(ctx, frame)
		if err != nil {
			return nil, errors.Wrapf(err, "detect frame %d", frame.Index)
		}
		if kept := p.Filter.Apply(dets); len(kept) > 0 {
			res.Frames = append(res.Frames, video.FrameDetections{Frame: frame.Index, Objects: kept})
			res.Detections += len(kept)
		}

		res.Decoded++
		if p.OnFrame != nil {
			p.OnFrame(res.Decoded, total)
		}
	}

	res.Duration = time.Since(start)
	if p.Logger != nil {
		p.Logger.Debugw("Detection pass finished",
			"frames", res.Decoded,
			"frames_with_objects", len(res.Frames),
			"detections", res.Detections,
			"duration_ms", res.Duration.Milliseconds())
	}
	return res, nil
}
