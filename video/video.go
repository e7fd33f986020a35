// Package video holds the detection data model shared by the pipeline stages
// and the metadata catalog.
package video

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/internal/util"
)

// BBox is an axis-aligned box in pixel coordinates, top-left (X1,Y1) to
// bottom-right (X2,Y2).
type BBox struct {
	X1, Y1, X2, Y2 int
}

// Width returns X2-X1
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns Y2-Y1
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Degenerate reports whether the box has no area
func (b BBox) Degenerate() bool {
	return b.X1 >= b.X2 || b.Y1 >= b.Y2
}

// Clamp limits the box to a w×h frame: x to [0,w-1], y to [0,h-1].
func (b BBox) Clamp(w, h int) BBox {
	return BBox{
		X1: util.ClampInt(b.X1, 0, w-1),
		Y1: util.ClampInt(b.Y1, 0, h-1),
		X2: util.ClampInt(b.X2, 0, w-1),
		Y2: util.ClampInt(b.Y2, 0, h-1),
	}
}

// Detection is one labelled box found in one frame.
type Detection struct {
	Label      string
	Confidence float64
	BBox       BBox
}

// detectionJSON is the stored wire shape: coordinates nested one level deep.
type detectionJSON struct {
	Label       string      `json:"label"`
	Confidence  float64     `json:"confidence"`
	Coordinates [][]float64 `json:"coordinates"`
}

// MarshalJSON writes {"label","confidence","coordinates":[[x1,y1,x2,y2]]}
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal(detectionJSON{
		Label:      d.Label,
		Confidence: d.Confidence,
		Coordinates: [][]float64{{
			float64(d.BBox.X1), float64(d.BBox.Y1), float64(d.BBox.X2), float64(d.BBox.Y2),
		}},
	})
}

// UnmarshalJSON accepts both [[x1,y1,x2,y2]] and a flat [x1,y1,x2,y2].
// Fractional coordinates are truncated toward zero.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var raw struct {
		Label       string          `json:"label"`
		Confidence  float64         `json:"confidence"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode detection")
	}

	var coords []float64
	var nested [][]float64
	if err := json.Unmarshal(raw.Coordinates, &nested); err == nil && len(nested) > 0 {
		coords = nested[0]
	} else if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
		return errors.Wrapf(err, "decode coordinates for %q", raw.Label)
	}
	if len(coords) != 4 {
		return errors.Newf("detection %q: want 4 coordinates, got %d", raw.Label, len(coords))
	}

	d.Label = raw.Label
	d.Confidence = raw.Confidence
	d.BBox = BBox{X1: int(coords[0]), Y1: int(coords[1]), X2: int(coords[2]), Y2: int(coords[3])}
	return nil
}

// FrameDetections groups the detections of one frame. Frames with no
// detections are never stored, so a video's set is sparse.
type FrameDetections struct {
	Frame   int         `json:"frame"`
	Objects []Detection `json:"objects"`
}

// Index maps frame number to detections for O(1) lookup while decoding
func Index(frames []FrameDetections) map[int][]Detection {
	idx := make(map[int][]Detection, len(frames))
	for _, f := range frames {
		idx[f.Frame] = append(idx[f.Frame], f.Objects...)
	}
	return idx
}

// Flatten returns every detection across all frames
func Flatten(frames []FrameDetections) []Detection {
	var out []Detection
	for _, f := range frames {
		out = append(out, f.Objects...)
	}
	return out
}

// ProcessedKey names the annotated video in the processed bucket
func ProcessedKey(name string) string {
	return "processed_" + name
}

// HeatmapKey names the heatmap image: the video extension becomes .png
func HeatmapKey(name string) string {
	ext := filepath.Ext(name)
	return "heatmap_" + strings.TrimSuffix(name, ext) + ".png"
}

// ValidateName rejects names that could escape a bucket or scratch directory
func ValidateName(name string) error {
	if name == "" {
		return errors.NewInvalidRequestError("video name is empty")
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.NewInvalidRequestError("invalid video name %q", name)
	}
	return nil
}
