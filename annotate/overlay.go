// Package annotate draws detections onto frames and produces the annotated
// video.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/teranos/vidscope/video"
)

// BoxColor is the outline and label colour
var BoxColor = color.RGBA{G: 255, A: 255}

const (
	boxThickness = 2
	labelOffset  = 10
)

// Overlay draws every detection onto img in place: a 2px box and
// "<label> <confidence>" with its baseline 10px above the box.
func Overlay(img *image.RGBA, dets []video.Detection) {
	for _, d := range dets {
		drawBox(img, d.BBox)
		drawLabel(img, d.BBox.X1, d.BBox.Y1-labelOffset, Label(d))
	}
}

// Label formats the caption for a detection
func Label(d video.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

func drawBox(img *image.RGBA, b video.BBox) {
	src := image.NewUniform(BoxColor)
	edges := []image.Rectangle{
		image.Rect(b.X1, b.Y1, b.X2+1, b.Y1+boxThickness),     // top
		image.Rect(b.X1, b.Y2-boxThickness+1, b.X2+1, b.Y2+1), // bottom
		image.Rect(b.X1, b.Y1, b.X1+boxThickness, b.Y2+1),     // left
		image.Rect(b.X2-boxThickness+1, b.Y1, b.X2+1, b.Y2+1), // right
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Rect), src, image.Point{}, draw.Src)
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(BoxColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
