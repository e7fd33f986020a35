package heatmap

import (
	"image"
	"image/color"
	"math"

	"github.com/teranos/vidscope/internal/util"
)

// jetLUT maps intensity 0..255 to jet RGB: dark blue → cyan → yellow → dark red
var jetLUT = func() [256]color.RGBA {
	var lut [256]color.RGBA
	for i := range lut {
		v := float64(i) / 255
		lut[i] = color.RGBA{
			R: channel(1.5 - math.Abs(4*v-3)),
			G: channel(1.5 - math.Abs(4*v-2)),
			B: channel(1.5 - math.Abs(4*v-1)),
			A: 255,
		}
	}
	return lut
}()

func channel(x float64) uint8 {
	return uint8(math.Round(255 * util.Clamp01(x)))
}

// Jet returns the colormap entry for v
func Jet(v uint8) color.RGBA {
	return jetLUT[v]
}

// Colorize applies the jet colormap to every pixel
func Colorize(gray *image.Gray) *image.RGBA {
	b := gray.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := jetLUT[gray.GrayAt(x, y).Y]
			i := out.PixOffset(x, y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 255
		}
	}
	return out
}

// Composite darkens bg by bgWeight and adds overlay at overlayWeight, saturating.
// Pixels outside bg (or all of them when bg is nil) count as black.
func Composite(bg, overlay *image.RGBA, bgWeight, overlayWeight float64) *image.RGBA {
	b := overlay.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := overlay.PixOffset(x, y)
			d := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				var base float64
				if bg != nil && (image.Point{X: x, Y: y}).In(bg.Bounds()) {
					base = math.Round(bgWeight * float64(bg.Pix[bg.PixOffset(x, y)+c]))
				}
				out.Pix[d+c] = saturate(base + overlayWeight*float64(overlay.Pix[o+c]))
			}
			out.Pix[d+3] = 255
		}
	}
	return out
}

func saturate(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
