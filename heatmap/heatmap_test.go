package heatmap

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/video"
)

func det(conf float64, x1, y1, x2, y2 int) video.Detection {
	return video.Detection{Label: "car", Confidence: conf, BBox: video.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}}
}

func TestAccumulate_SingleLobe(t *testing.T) {
	t.Log("Two frames, one car on frame 0 at (10,10)-(50,50) in a 100×100 video")
	frames := []video.FrameDetections{
		{Frame: 0, Objects: []video.Detection{det(0.9, 10, 10, 50, 50)}},
	}

	r := Accumulate(frames, 100, 100)

	t.Log("Peak at the box centre equals the confidence")
	assert.InDelta(t, 0.9, r.At(30, 30), 1e-6)
	assert.Equal(t, r.At(30, 30), r.Max())

	t.Log("sigma = 10, window radius 30: nothing at or beyond row/col 60")
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if x >= 60 || y >= 60 {
				require.Zero(t, r.At(x, y), "energy outside window at (%d,%d)", x, y)
			}
		}
	}

	t.Log("Kernel falls off as exp(-d²/2σ²)")
	want := 0.9 * math.Exp(-100.0/200.0)
	assert.InDelta(t, want, r.At(40, 30), 1e-6)
	assert.InDelta(t, r.At(20, 30), r.At(40, 30), 1e-7, "symmetric about the centre")
}

func TestAccumulate_Clamping(t *testing.T) {
	t.Run("partly outside still contributes", func(t *testing.T) {
		r := Accumulate([]video.FrameDetections{{Objects: []video.Detection{det(0.8, 80, 40, 140, 60)}}}, 100, 100)
		assert.Greater(t, r.Max(), float32(0))
		// clamped to (80,40)-(99,60): centre (89,50)
		assert.Equal(t, r.Max(), r.At(89, 50))
	})

	t.Run("entirely outside is dropped", func(t *testing.T) {
		r := Accumulate([]video.FrameDetections{{Objects: []video.Detection{det(0.8, 120, 10, 160, 50)}}}, 100, 100)
		assert.Zero(t, r.Max())
	})

	t.Run("negative coordinates clamp to zero", func(t *testing.T) {
		r := Accumulate([]video.FrameDetections{{Objects: []video.Detection{det(0.5, -30, -30, 20, 20)}}}, 100, 100)
		assert.Equal(t, r.Max(), r.At(10, 10))
	})
}

func TestAccumulate_DegenerateBoxes(t *testing.T) {
	frames := []video.FrameDetections{{Objects: []video.Detection{
		det(0.9, 10, 10, 10, 50), // zero width
		det(0.9, 10, 50, 40, 20), // inverted
	}}}
	assert.Zero(t, Accumulate(frames, 100, 100).Max())
}

func TestNormalize_NoDetections(t *testing.T) {
	_, err := Normalize(Accumulate(nil, 64, 48), 25)
	assert.True(t, errors.Is(err, errors.ErrNoDetections))

	_, err = Normalize(Accumulate(nil, 0, 0), 25)
	assert.True(t, errors.Is(err, errors.ErrNoDetections))
}

func TestNormalize_RescaleRoundAndFloor(t *testing.T) {
	r := &Raster{W: 4, H: 1, Data: []float32{0, 0.1, 0.05, 1}}

	gray, err := Normalize(r, 25)
	require.NoError(t, err)
	// 0.1·255 = 25.5 → 26 kept; 0.05·255 = 12.75 → 13 below the floor
	assert.Equal(t, []uint8{0, 26, 0, 255}, gray.Pix)
}

func TestNormalize_UniformBuffer(t *testing.T) {
	r := &Raster{W: 2, H: 2, Data: []float32{0.4, 0.4, 0.4, 0.4}}
	gray, err := Normalize(r, 25)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 255, 255, 255}, gray.Pix)
}

func TestJet(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0, G: 0, B: 128, A: 255}, Jet(0))
	assert.Equal(t, color.RGBA{R: 128, G: 0, B: 0, A: 255}, Jet(255))
	assert.Equal(t, uint8(255), Jet(128).G, "midpoint is green")
}

func TestComposite(t *testing.T) {
	bg := image.NewRGBA(image.Rect(0, 0, 1, 1))
	bg.Pix = []uint8{100, 100, 100, 255}
	overlay := image.NewRGBA(image.Rect(0, 0, 1, 1))
	overlay.Pix = []uint8{0, 0, 128, 255}

	out := Composite(bg, overlay, 0.3, 0.7)
	// R: round(30) + 0; B: 30 + 89.6 → 120
	assert.Equal(t, []uint8{30, 30, 120, 255}, out.Pix)

	hot := image.NewRGBA(image.Rect(0, 0, 1, 1))
	hot.Pix = []uint8{255, 255, 255, 255}
	white := image.NewRGBA(image.Rect(0, 0, 1, 1))
	white.Pix = []uint8{255, 255, 255, 255}
	assert.Equal(t, []uint8{255, 255, 255, 255}, Composite(hot, white, 0.3, 0.7).Pix, "saturates")

	assert.Equal(t, []uint8{0, 0, 90, 255}, Composite(nil, overlay, 0.3, 0.7).Pix, "nil background is black")
}

func TestRender_Reproducible(t *testing.T) {
	frames := []video.FrameDetections{
		{Frame: 0, Objects: []video.Detection{det(0.9, 10, 10, 50, 50)}},
		{Frame: 7, Objects: []video.Detection{det(0.4, 30, 20, 90, 70), det(0.6, 0, 60, 25, 99)}},
	}
	bg := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for i := range bg.Pix {
		bg.Pix[i] = uint8(i % 251)
	}

	e := NewEngine(DefaultOptions())
	a, err := e.Render(frames, 100, 100, bg)
	require.NoError(t, err)
	b, err := e.Render(frames, 100, 100, bg)
	require.NoError(t, err)

	var bufA, bufB bytes.Buffer
	require.NoError(t, Encode(&bufA, a))
	require.NoError(t, Encode(&bufB, b))
	assert.Equal(t, bufA.Bytes(), bufB.Bytes())

	decoded, err := png.Decode(&bufA)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), decoded.Bounds())
}

func TestRender_NoDetectionsReturnsNothing(t *testing.T) {
	e := NewEngine(DefaultOptions())
	img, err := e.Render([]video.FrameDetections{}, 100, 100, nil)
	assert.Nil(t, img)
	assert.True(t, errors.Is(err, errors.ErrNoDetections))
}

func TestEngine_SetOptions(t *testing.T) {
	e := NewEngine(DefaultOptions())
	e.SetOptions(Options{NoiseFloor: 50, BackgroundWeight: 1, OverlayWeight: 0.7})
	assert.Equal(t, 50, e.Options().NoiseFloor)
}
