// Package media decodes and encodes video frames and runs the final
// transcode. Frames are plain *image.RGBA so drawing and heatmap code stay
// independent of the codec library.
package media

import (
	"context"
	"image"
	"io"

	"github.com/teranos/vidscope/errors"
)

// Frame is one decoded frame. Index counts from 0 in decode order.
type Frame struct {
	Index int
	Image *image.RGBA
}

// Info describes a video stream. FrameCount is 0 when the container does
// not report it.
type Info struct {
	FPS        float64
	Width      int
	Height     int
	FrameCount int
}

// Source decodes frames sequentially. Next returns io.EOF after the last frame.
type Source interface {
	Info() Info
	Next() (*Frame, error)
	Close() error
}

// Sink writes frames to an intermediate file at the source's FPS and size.
type Sink interface {
	Write(f *Frame) error
	Close() error
}

// Opener opens sources and creates sinks on local files
type Opener interface {
	Open(path string) (Source, error)
	Create(path string, info Info, codec string) (Sink, error)
}

// Transcoder turns the intermediate file into the delivery format
type Transcoder interface {
	Transcode(ctx context.Context, in, out string) error
}

// MidpointIndex is the frame used as heatmap background: frameCount/2, or
// the first frame when the count is unknown.
func MidpointIndex(info Info) int {
	if info.FrameCount <= 0 {
		return 0
	}
	return info.FrameCount / 2
}

// FrameAt decodes sequentially up to index and returns a copy of that frame.
// If the stream ends first, the last decoded frame is returned.
func FrameAt(ctx context.Context, opener Opener, path string, index int) (*Frame, Info, error) {
	src, err := opener.Open(path)
	if err != nil {
		return nil, Info{}, err
	}
	defer src.Close()

	var last *Frame
	for {
		if err := ctx.Err(); err != nil {
			return nil, Info{}, err
		}
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Info{}, errors.Mark(errors.Wrapf(err, "decode %s", path), errors.ErrDecodeFailure)
		}
		last = f
		if f.Index >= index {
			break
		}
	}
	if last == nil {
		return nil, Info{}, errors.Wrapf(errors.ErrDecodeFailure, "%s has no frames", path)
	}
	return &Frame{Index: last.Index, Image: CloneRGBA(last.Image)}, src.Info(), nil
}

// CloneRGBA deep-copies img
func CloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}
