//go:build cgo && opencv

package media

import (
	"image"
	"io"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teranos/vidscope/errors"
)

// OpenCVAvailable reports whether this binary was built with -tags opencv
const OpenCVAvailable = true

// OpenCV decodes and encodes with gocv VideoCapture/VideoWriter
type OpenCV struct{}

// NewOpenCV returns the OpenCV-backed Opener
func NewOpenCV() Opener { return OpenCV{} }

type cvSource struct {
	cap  *gocv.VideoCapture
	mat  gocv.Mat
	info Info
	next int
	once sync.Once
}

// Open starts sequential decoding of path
func (OpenCV) Open(path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", path), errors.ErrDecodeFailure)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Wrapf(errors.ErrDecodeFailure, "cannot open %s", path)
	}
	info := Info{
		FPS:        vc.Get(gocv.VideoCaptureFPS),
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	if info.Width <= 0 || info.Height <= 0 {
		vc.Close()
		return nil, errors.Wrapf(errors.ErrDecodeFailure, "%s reports no frame size", path)
	}
	if info.FrameCount < 0 {
		info.FrameCount = 0
	}
	return &cvSource{cap: vc, mat: gocv.NewMat(), info: info}, nil
}

func (s *cvSource) Info() Info { return s.info }

func (s *cvSource) Next() (*Frame, error) {
	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, io.EOF
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "convert frame %d", s.next), errors.ErrDecodeFailure)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(img.Bounds())
		for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
			for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
				rgba.Set(x, y, img.At(x, y))
			}
		}
	}
	f := &Frame{Index: s.next, Image: rgba}
	s.next++
	return f, nil
}

func (s *cvSource) Close() error {
	s.once.Do(func() {
		s.mat.Close()
		s.cap.Close()
	})
	return nil
}

type cvSink struct {
	w    *gocv.VideoWriter
	once sync.Once
}

// Create opens a VideoWriter at the source FPS and size
func (OpenCV) Create(path string, info Info, codec string) (Sink, error) {
	if codec == "" {
		codec = "mp4v"
	}
	fps := info.FPS
	if fps <= 0 {
		fps = 30
	}
	w, err := gocv.VideoWriterFile(path, codec, fps, info.Width, info.Height, true)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create %s", path), errors.ErrEncodeFailure)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, errors.Wrapf(errors.ErrEncodeFailure, "cannot write %s with codec %s", path, codec)
	}
	return &cvSink{w: w}, nil
}

func (s *cvSink) Write(f *Frame) error {
	rgba, err := gocv.ImageToMatRGBA(f.Image)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "convert frame %d", f.Index), errors.ErrEncodeFailure)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	if err := s.w.Write(bgr); err != nil {
		return errors.Mark(errors.Wrapf(err, "write frame %d", f.Index), errors.ErrEncodeFailure)
	}
	return nil
}

func (s *cvSink) Close() error {
	var err error
	s.once.Do(func() { err = s.w.Close() })
	return err
}
