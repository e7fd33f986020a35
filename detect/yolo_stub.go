//go:build !cgo || !opencv

package detect

import (
	"context"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/video"
)

// YOLO is unavailable without OpenCV
type YOLO struct{}

// NewYOLO always fails in this build
func NewYOLO(cfg YOLOConfig) (*YOLO, error) {
	return nil, errors.WithHint(
		errors.Newf("cannot load %s: built without OpenCV", cfg.ModelPath),
		"rebuild with CGO_ENABLED=1 -tags opencv",
	)
}

func (*YOLO) Detect(ctx context.Context, f *media.Frame) ([]video.Detection, error) {
	return nil, errors.New("detector unavailable: built without OpenCV")
}

func (*YOLO) Close() error { return nil }
