package pipeline

import (
	"image"
	"os"
	"path/filepath"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/video"
)

// JobContext is everything one job knows about its video. It is passed by
// value between stages; With* methods return an updated copy.
type JobContext struct {
	Video string
	JobID string

	Dir              string
	SourcePath       string
	IntermediatePath string
	ProcessedPath    string

	ProcessedKey string
	HeatmapKey   string

	Detections []video.FrameDetections
	Info       media.Info
	Background *image.RGBA
}

// NewJobContext lays out scratch paths under <scratch>/<video>/<job>
func NewJobContext(scratchRoot, name, jobID, intermediateExt string) JobContext {
	if intermediateExt == "" {
		intermediateExt = ".mp4"
	}
	dir := filepath.Join(scratchRoot, name, jobID)
	processedKey := video.ProcessedKey(name)

	return JobContext{
		Video:            name,
		JobID:            jobID,
		Dir:              dir,
		SourcePath:       filepath.Join(dir, "source"+filepath.Ext(name)),
		IntermediatePath: filepath.Join(dir, "intermediate"+intermediateExt),
		ProcessedPath:    filepath.Join(dir, processedKey),
		ProcessedKey:     processedKey,
		HeatmapKey:       video.HeatmapKey(name),
	}
}

// WithDetections returns a copy carrying the detection list
func (jc JobContext) WithDetections(frames []video.FrameDetections) JobContext {
	jc.Detections = frames
	return jc
}

// WithRender returns a copy carrying stream info and the heatmap background
func (jc JobContext) WithRender(info media.Info, bg *image.RGBA) JobContext {
	jc.Info = info
	jc.Background = bg
	return jc
}

// Size returns the frame size, falling back to the background bounds
func (jc JobContext) Size() (int, int) {
	if jc.Info.Width > 0 && jc.Info.Height > 0 {
		return jc.Info.Width, jc.Info.Height
	}
	if jc.Background != nil {
		return jc.Background.Rect.Dx(), jc.Background.Rect.Dy()
	}
	return 0, 0
}

func (jc JobContext) prepare() error {
	if err := os.MkdirAll(jc.Dir, 0755); err != nil {
		return errors.Wrapf(err, "create scratch directory %s", jc.Dir)
	}
	return nil
}

// cleanup removes the job's scratch directory and the per-video parent
// when it is left empty
func (jc JobContext) cleanup() error {
	if err := os.RemoveAll(jc.Dir); err != nil {
		return errors.Wrapf(err, "remove scratch directory %s", jc.Dir)
	}
	os.Remove(filepath.Dir(jc.Dir))
	return nil
}
