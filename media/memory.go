package media

import (
	"context"
	"image"
	"io"
	"os"
	"sync"

	"github.com/teranos/vidscope/errors"
)

// Memory is an in-process Opener for tests and dry runs. Videos are
// registered by path; sinks record written frames and touch the file on
// disk so later stages can stat it.
type Memory struct {
	mu      sync.Mutex
	videos  map[string]memVideo
	written map[string][]*image.RGBA
	opened  int
}

type memVideo struct {
	info   Info
	frames []*image.RGBA
}

// NewMemory creates an empty Memory opener
func NewMemory() *Memory {
	return &Memory{
		videos:  make(map[string]memVideo),
		written: make(map[string][]*image.RGBA),
	}
}

// Add registers frames under path. FrameCount is filled in when zero.
func (m *Memory) Add(path string, info Info, frames []*image.RGBA) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.FrameCount == 0 {
		info.FrameCount = len(frames)
	}
	m.videos[path] = memVideo{info: info, frames: frames}
}

// Written returns the frames a sink wrote to path
func (m *Memory) Written(path string) []*image.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written[path]
}

// Opens counts Open calls
func (m *Memory) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *Memory) Open(path string) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	v, ok := m.videos[path]
	if !ok {
		return nil, errors.Wrapf(errors.ErrDecodeFailure, "cannot open %s", path)
	}
	return &memSource{v: v}, nil
}

func (m *Memory) Create(path string, info Info, codec string) (Sink, error) {
	if err := os.WriteFile(path, []byte("raw:"+codec), 0644); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create %s", path), errors.ErrEncodeFailure)
	}
	return &memSink{m: m, path: path}, nil
}

type memSource struct {
	v    memVideo
	next int
}

func (s *memSource) Info() Info { return s.v.info }

func (s *memSource) Next() (*Frame, error) {
	if s.next >= len(s.v.frames) {
		return nil, io.EOF
	}
	f := &Frame{Index: s.next, Image: CloneRGBA(s.v.frames[s.next])}
	s.next++
	return f, nil
}

func (s *memSource) Close() error { return nil }

type memSink struct {
	m    *Memory
	path string
}

func (s *memSink) Write(f *Frame) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.written[s.path] = append(s.m.written[s.path], CloneRGBA(f.Image))
	return nil
}

func (s *memSink) Close() error { return nil }

// CopyTranscoder copies in to out. Used where ffmpeg is unavailable.
type CopyTranscoder struct{}

func (CopyTranscoder) Transcode(ctx context.Context, in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "open %s", in), errors.ErrEncodeFailure)
	}
	defer src.Close()
	dst, err := os.Create(out)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "create %s", out), errors.ErrEncodeFailure)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Mark(errors.Wrap(err, "copy"), errors.ErrEncodeFailure)
	}
	if n == 0 {
		os.Remove(out)
		return errors.Wrapf(errors.ErrEncodeFailure, "empty output at %s", out)
	}
	return nil
}
