// Package heatmap turns a sparse detection list into a density raster and
// composites it, false-coloured, over a background frame.
//
// The numeric recipe is fixed so the same detections always give the same
// PNG bytes:
//
//  1. float32 accumulation buffer W×H, zero
//  2. clamp each box to [0,W-1]×[0,H-1]; drop boxes with no area
//  3. centre (integer division) and sigma = max(bw, bh) / 4
//  4. add conf·exp(-(dx²+dy²)/(2σ²)) over rows [cy-r, cy+r) and cols
//     [cx-r, cx+r), r = int(3σ), clipped to the image
//  5. max ≤ 0 → errors.ErrNoDetections
//  6. min-max rescale to [0,255], round, zero values below the noise floor
//  7. jet colormap
//  8. out = sat(round(bgWeight·bg) + overlayWeight·jet)
package heatmap

import (
	"image"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/video"
)

// Options are the tunable parts of the recipe
type Options struct {
	NoiseFloor       int
	BackgroundWeight float64
	OverlayWeight    float64
}

// DefaultOptions returns noise floor 25, background 30 %, overlay 70 %
func DefaultOptions() Options {
	return Options{NoiseFloor: 25, BackgroundWeight: 0.3, OverlayWeight: 0.7}
}

// Raster is the float32 accumulation buffer, row-major
type Raster struct {
	W, H int
	Data []float32
}

// At returns the value at (x, y)
func (r *Raster) At(x, y int) float32 {
	return r.Data[y*r.W+x]
}

// Max returns the largest value in the buffer
func (r *Raster) Max() float32 {
	var m float32
	for i, v := range r.Data {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}

// Accumulate builds the density buffer for a w×h frame. Degenerate boxes
// (after clamping) contribute nothing.
func Accumulate(frames []video.FrameDetections, w, h int) *Raster {
	r := &Raster{W: w, H: h, Data: make([]float32, w*h)}
	if w <= 0 || h <= 0 {
		r.W, r.H, r.Data = 0, 0, nil
		return r
	}
	for _, fd := range frames {
		for _, d := range fd.Objects {
			r.add(d)
		}
	}
	return r
}

func (r *Raster) add(d video.Detection) {
	b := d.BBox.Clamp(r.W, r.H)
	if b.Degenerate() {
		return
	}

	cx := (b.X1 + b.X2) / 2
	cy := (b.Y1 + b.Y2) / 2
	bw, bh := b.Width(), b.Height()
	sigma := float64(bw) / 4
	if bh > bw {
		sigma = float64(bh) / 4
	}
	radius := int(sigma * 3)
	twoSigma2 := 2 * sigma * sigma

	yMin, yMax := max(0, cy-radius), min(r.H, cy+radius)
	xMin, xMax := max(0, cx-radius), min(r.W, cx+radius)

	for y := yMin; y < yMax; y++ {
		dy := y - cy
		row := r.Data[y*r.W : (y+1)*r.W]
		for x := xMin; x < xMax; x++ {
			dx := x - cx
			g := math.Exp(-float64(dx*dx+dy*dy) / twoSigma2)
			row[x] += float32(g * d.Confidence)
		}
	}
}

// Normalize rescales the buffer to 0..255 and zeroes values below noiseFloor.
// A buffer with no positive value is ErrNoDetections.
func Normalize(r *Raster, noiseFloor int) (*image.Gray, error) {
	if len(r.Data) == 0 || r.Max() <= 0 {
		return nil, errors.ErrNoDetections
	}

	lo, hi := float64(r.Data[0]), float64(r.Data[0])
	for _, v := range r.Data {
		f := float64(v)
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}

	out := image.NewGray(image.Rect(0, 0, r.W, r.H))
	span := hi - lo
	// A uniform positive buffer is all peak
	if span < 1e-12 {
		for i := range out.Pix {
			out.Pix[i] = 255
		}
		return out, nil
	}

	scale := 255 / span
	for i, v := range r.Data {
		q := math.Round((float64(v) - lo) * scale)
		if q > 255 {
			q = 255
		}
		if q < 0 {
			q = 0
		}
		if int(q) < noiseFloor {
			q = 0
		}
		out.Pix[i] = uint8(q)
	}
	return out, nil
}

// Engine renders heatmaps with options that can be swapped while running
type Engine struct {
	mu   sync.RWMutex
	opts Options
}

// NewEngine creates an Engine
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Options returns the current options
func (e *Engine) Options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// SetOptions replaces the options for subsequent renders
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

// Render produces the composited heatmap for a w×h video. bg may be nil (black).
// Nothing is allocated for the output when there are no usable detections.
func (e *Engine) Render(frames []video.FrameDetections, w, h int, bg *image.RGBA) (*image.RGBA, error) {
	opts := e.Options()

	gray, err := Normalize(Accumulate(frames, w, h), opts.NoiseFloor)
	if err != nil {
		return nil, err
	}
	return Composite(bg, Colorize(gray), opts.BackgroundWeight, opts.OverlayWeight), nil
}

// Encode writes img as PNG at best compression
func Encode(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(w, img); err != nil {
		return errors.Wrap(err, "encode heatmap png")
	}
	return nil
}
