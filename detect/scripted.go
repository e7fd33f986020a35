package detect

import (
	"context"
	"sync"

	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/video"
)

// Scripted returns fixed detections per frame index and counts its calls.
// It stands in for a model in tests and dry runs.
type Scripted struct {
	mu     sync.Mutex
	frames map[int][]video.Detection
	calls  int
	err    error
}

// NewScripted creates a detector answering from frames
func NewScripted(frames map[int][]video.Detection) *Scripted {
	if frames == nil {
		frames = map[int][]video.Detection{}
	}
	return &Scripted{frames: frames}
}

// FailWith makes every later call return err
func (s *Scripted) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many frames were submitted
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Detect(ctx context.Context, f *media.Frame) ([]video.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]video.Detection(nil), s.frames[f.Index]...), nil
}
