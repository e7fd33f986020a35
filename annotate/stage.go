package annotate

import (
	"context"
	"image"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/video"
)

// Job is the input for one annotation run. All paths are local scratch files.
type Job struct {
	Source       string
	Intermediate string
	Output       string
	Detections   []video.FrameDetections
}

// Result carries what later stages need from the decoded video
type Result struct {
	Info       media.Info
	Frames     int
	Background *image.RGBA
	Duration   time.Duration
}

// Stage decodes a video, draws its detections, writes the raw intermediate
// and transcodes it to the delivery format.
type Stage struct {
	Opener     media.Opener
	Transcoder media.Transcoder
	Codec      string
	Logger     *zap.SugaredLogger
	OnFrame    func(done, total int)
}

// Run executes the stage. The intermediate file is left for the caller to
// remove; Output exists and is non-empty on success.
func (s *Stage) Run(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()

	src, err := s.Opener.Open(job.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	info := src.Info()
	sink, err := s.Opener.Create(job.Intermediate, info, s.Codec)
	if err != nil {
		return nil, err
	}

	frames, bg, err := s.render(ctx, src, sink, job.Detections)
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = errors.Mark(errors.Wrapf(cerr, "finalize %s", job.Intermediate), errors.ErrEncodeFailure)
	}
	if err != nil {
		return nil, err
	}
	if frames == 0 {
		return nil, errors.Wrapf(errors.ErrDecodeFailure, "%s has no frames", job.Source)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Transcoder.Transcode(ctx, job.Intermediate, job.Output); err != nil {
		return nil, err
	}
	if st, err := os.Stat(job.Output); err != nil || st.Size() == 0 {
		return nil, errors.Wrapf(errors.ErrEncodeFailure, "transcode produced no output at %s", job.Output)
	}

	res := &Result{Info: info, Frames: frames, Background: bg, Duration: time.Since(start)}
	if s.Logger != nil {
		s.Logger.Debugw("Annotated video written",
			"frames", frames,
			"output", job.Output,
			"duration_ms", res.Duration.Milliseconds())
	}
	return res, nil
}

// render copies every frame from src to sink, drawing detections on the
// frames that have them. The midpoint frame is captured before drawing.
func (s *Stage) render(ctx context.Context, src media.Source, sink media.Sink, dets []video.FrameDetections) (int, *image.RGBA, error) {
	info := src.Info()
	mid := media.MidpointIndex(info)
	byFrame := video.Index(dets)

	var bg *image.RGBA
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, nil, err
		}
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, nil, errors.Mark(errors.Wrapf(err, "decode frame %d", n), errors.ErrDecodeFailure)
		}

		if f.Index == mid || bg == nil {
			bg = media.CloneRGBA(f.Image)
		}
		if objs, ok := byFrame[f.Index]; ok {
			Overlay(f.Image, objs)
		}
		if err := sink.Write(f); err != nil {
			return n, nil, err
		}

		n++
		if s.OnFrame != nil {
			s.OnFrame(n, info.FrameCount)
		}
	}
	return n, bg, nil
}
