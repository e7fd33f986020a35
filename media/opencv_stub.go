//go:build !cgo || !opencv

package media

import (
	"github.com/teranos/vidscope/errors"
)

// OpenCVAvailable reports whether this binary was built with -tags opencv
const OpenCVAvailable = false

// OpenCV is unavailable in this build; every call fails with ErrDecodeFailure
type OpenCV struct{}

// NewOpenCV returns the stub Opener
func NewOpenCV() Opener { return OpenCV{} }

func (OpenCV) Open(path string) (Source, error) {
	return nil, errors.WithHint(
		errors.Wrapf(errors.ErrDecodeFailure, "cannot decode %s: built without OpenCV", path),
		"rebuild with CGO_ENABLED=1 -tags opencv",
	)
}

func (OpenCV) Create(path string, info Info, codec string) (Sink, error) {
	return nil, errors.WithHint(
		errors.Wrapf(errors.ErrEncodeFailure, "cannot encode %s: built without OpenCV", path),
		"rebuild with CGO_ENABLED=1 -tags opencv",
	)
}
