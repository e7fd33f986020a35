package catalog

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/teranos/vidscope/video"
)

// DefaultFPS converts frame numbers to timestamps when the source rate is
// not recorded
const DefaultFPS = 30.0

// Occurrence is one matching detection
type Occurrence struct {
	Frame       int        `json:"frame"`
	Timestamp   float64    `json:"timestamp"`
	Confidence  float64    `json:"confidence"`
	BBox        video.BBox `json:"-"`
	Coordinates [][]int    `json:"coordinates"`
}

func occurrence(frame int, fps float64, d video.Detection) Occurrence {
	return Occurrence{
		Frame:       frame,
		Timestamp:   float64(frame) / fps,
		Confidence:  d.Confidence,
		BBox:        d.BBox,
		Coordinates: [][]int{{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2}},
	}
}

// FrameMatch groups the matching detections of one frame
type FrameMatch struct {
	Frame     int          `json:"frame"`
	Timestamp float64      `json:"timestamp"`
	Objects   []Occurrence `json:"objects"`
}

// LabelMatch is one video containing a searched label
type LabelMatch struct {
	VideoName          string       `json:"video_name"`
	Frames             []FrameMatch `json:"frames"`
	ProcessedVideoPath *string      `json:"processed_video_path"`
	TotalDetections    int          `json:"total_detections"`
}

// SearchLabel finds label (case-insensitive) across every video with
// metadata. Frames are in order; videos are sorted by total detections,
// most first.
func (s *Store) SearchLabel(ctx context.Context, label string, fps float64) ([]LabelMatch, error) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var results []LabelMatch
	for _, rec := range records {
		if len(rec.Metadata) == 0 {
			continue
		}
		match := LabelMatch{VideoName: rec.VideoName, ProcessedVideoPath: rec.ProcessedVideoPath}
		for _, fd := range rec.Metadata {
			var objs []Occurrence
			for _, d := range fd.Objects {
				if strings.EqualFold(d.Label, label) {
					objs = append(objs, occurrence(fd.Frame, fps, d))
				}
			}
			if len(objs) > 0 {
				match.Frames = append(match.Frames, FrameMatch{
					Frame:     fd.Frame,
					Timestamp: float64(fd.Frame) / fps,
					Objects:   objs,
				})
				match.TotalDetections += len(objs)
			}
		}
		if match.TotalDetections == 0 {
			continue
		}
		sort.SliceStable(match.Frames, func(i, j int) bool { return match.Frames[i].Frame < match.Frames[j].Frame })
		results = append(results, match)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalDetections > results[j].TotalDetections
	})
	return results, nil
}

// ObjectStats summarizes one label within a video
type ObjectStats struct {
	Label             string       `json:"label"`
	Occurrences       []Occurrence `json:"occurrences"`
	TotalDetections   int          `json:"total_detections"`
	AverageConfidence float64      `json:"average_confidence"`
	FirstDetection    int          `json:"first_detection"`
	LastDetection     int          `json:"last_detection"`
}

// ObjectSummary groups a video's detections by label, sorted by count, most
// first. Returns errors.ErrNotFound if the video has no metadata.
func (s *Store) ObjectSummary(ctx context.Context, name string, fps float64) ([]ObjectStats, error) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return Summarize(rec.Metadata, fps), nil
}

// Summarize builds per-label statistics from a detection list
func Summarize(frames []video.FrameDetections, fps float64) []ObjectStats {
	byLabel := make(map[string]*ObjectStats)
	var order []string
	for _, fd := range frames {
		for _, d := range fd.Objects {
			st, ok := byLabel[d.Label]
			if !ok {
				st = &ObjectStats{Label: d.Label}
				byLabel[d.Label] = st
				order = append(order, d.Label)
			}
			st.Occurrences = append(st.Occurrences, occurrence(fd.Frame, fps, d))
		}
	}

	out := make([]ObjectStats, 0, len(order))
	for _, label := range order {
		st := byLabel[label]
		sort.SliceStable(st.Occurrences, func(i, j int) bool { return st.Occurrences[i].Frame < st.Occurrences[j].Frame })

		var sum float64
		for _, o := range st.Occurrences {
			sum += o.Confidence
		}
		st.TotalDetections = len(st.Occurrences)
		st.AverageConfidence = math.Round(sum/float64(st.TotalDetections)*1000) / 1000
		st.FirstDetection = st.Occurrences[0].Frame
		st.LastDetection = st.Occurrences[len(st.Occurrences)-1].Frame
		out = append(out, *st)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalDetections > out[j].TotalDetections })
	return out
}
