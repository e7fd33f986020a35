package annotate

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/video"
)

var grey = color.RGBA{R: 40, G: 40, B: 40, A: 255}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func car() video.Detection {
	return video.Detection{Label: "car", Confidence: 0.9, BBox: video.BBox{X1: 10, Y1: 30, X2: 50, Y2: 70}}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "car 0.90", Label(car()))
	assert.Equal(t, "person 0.33", Label(video.Detection{Label: "person", Confidence: 0.3333}))
}

func TestOverlay(t *testing.T) {
	img := solid(100, 100, grey)
	Overlay(img, []video.Detection{car()})

	t.Log("2px outline on every edge")
	for _, p := range []image.Point{{10, 30}, {11, 31}, {50, 70}, {49, 69}, {30, 30}, {30, 70}, {10, 50}, {50, 50}} {
		assert.Equal(t, BoxColor, img.RGBAAt(p.X, p.Y), "edge pixel %v", p)
	}

	t.Log("Interior untouched")
	assert.Equal(t, grey, img.RGBAAt(30, 50))
	assert.Equal(t, grey, img.RGBAAt(12, 32))

	t.Log("Caption drawn above the box")
	found := false
	for y := 0; y < 30 && !found; y++ {
		for x := 10; x < 70; x++ {
			if img.RGBAAt(x, y) != grey {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected label pixels above the box")
}

func TestOverlay_ClipsToFrame(t *testing.T) {
	img := solid(20, 20, grey)
	assert.NotPanics(t, func() {
		Overlay(img, []video.Detection{{Label: "x", Confidence: 1, BBox: video.BBox{X1: -5, Y1: 2, X2: 40, Y2: 50}}})
	})
	assert.Equal(t, BoxColor, img.RGBAAt(0, 2))
}

func newStage(m *media.Memory) *Stage {
	return &Stage{
		Opener:     m,
		Transcoder: media.CopyTranscoder{},
		Codec:      "mp4v",
		Logger:     zap.NewNop().Sugar(),
	}
}

func TestStageRun(t *testing.T) {
	dir := t.TempDir()
	m := media.NewMemory()
	frame0 := solid(100, 100, grey)
	frame1 := solid(100, 100, color.RGBA{R: 200, A: 255})
	m.Add("src.mp4", media.Info{FPS: 30, Width: 100, Height: 100}, []*image.RGBA{frame0, frame1})

	job := Job{
		Source:       "src.mp4",
		Intermediate: filepath.Join(dir, "raw.mp4"),
		Output:       filepath.Join(dir, "processed.mp4"),
		Detections:   []video.FrameDetections{{Frame: 0, Objects: []video.Detection{car()}}},
	}

	var ticks []int
	s := newStage(m)
	s.OnFrame = func(done, total int) { ticks = append(ticks, done) }

	res, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Frames)
	assert.Equal(t, []int{1, 2}, ticks)
	assert.FileExists(t, job.Output)

	written := m.Written(job.Intermediate)
	require.Len(t, written, 2)
	assert.Equal(t, BoxColor, written[0].RGBAAt(10, 30), "frame 0 annotated")
	assert.Equal(t, frame1.Pix, written[1].Pix, "frame 1 untouched")

	t.Log("Background is the unannotated midpoint frame (2/2 = frame 1)")
	require.NotNil(t, res.Background)
	assert.Equal(t, frame1.Pix, res.Background.Pix)
}

func TestStageRun_BackgroundUnannotated(t *testing.T) {
	dir := t.TempDir()
	m := media.NewMemory()
	frame0 := solid(100, 100, grey)
	m.Add("one.mp4", media.Info{FPS: 30, Width: 100, Height: 100}, []*image.RGBA{frame0})

	res, err := newStage(m).Run(context.Background(), Job{
		Source:       "one.mp4",
		Intermediate: filepath.Join(dir, "raw.mp4"),
		Output:       filepath.Join(dir, "out.mp4"),
		Detections:   []video.FrameDetections{{Frame: 0, Objects: []video.Detection{car()}}},
	})
	require.NoError(t, err)
	assert.Equal(t, grey, res.Background.RGBAAt(10, 30))
}

func TestStageRun_Failures(t *testing.T) {
	dir := t.TempDir()
	m := media.NewMemory()
	m.Add("empty.mp4", media.Info{FPS: 30, Width: 10, Height: 10, FrameCount: 1}, nil)

	_, err := newStage(m).Run(context.Background(), Job{Source: "missing.mp4"})
	assert.True(t, errors.Is(err, errors.ErrDecodeFailure))

	_, err = newStage(m).Run(context.Background(), Job{
		Source:       "empty.mp4",
		Intermediate: filepath.Join(dir, "raw.mp4"),
		Output:       filepath.Join(dir, "out.mp4"),
	})
	assert.True(t, errors.Is(err, errors.ErrDecodeFailure))
	assert.NoFileExists(t, filepath.Join(dir, "out.mp4"))
}
