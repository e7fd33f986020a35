//go:build cgo && opencv

package detect

import (
	"context"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/video"
)

// YOLO runs a YOLOv8 ONNX export through the OpenCV DNN module
type YOLO struct {
	mu    sync.Mutex
	net   gocv.Net
	names []string
	cfg   YOLOConfig
}

// NewYOLO loads the network on the CPU backend
func NewYOLO(cfg YOLOConfig) (*YOLO, error) {
	cfg = cfg.withDefaults()
	names, err := LoadNames(cfg.NamesPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, errors.Newf("failed to load network from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLO{net: net, names: names, cfg: cfg}, nil
}

// Detect runs one forward pass. Output is [1, 4+classes, anchors] with
// centre/size boxes in input-pixel space.
func (y *YOLO) Detect(ctx context.Context, f *media.Frame) ([]video.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rgba, err := gocv.ImageToMatRGBA(f.Image)
	if err != nil {
		return nil, errors.Wrapf(err, "convert frame %d", f.Index)
	}
	defer rgba.Close()
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	size := y.cfg.InputSize
	blob := gocv.BlobFromImage(bgr, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.mu.Lock()
	y.net.SetInput(blob, "")
	out := y.net.Forward("")
	y.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, errors.Newf("unexpected output shape %v", dims)
	}
	attrs, anchors := dims[1], dims[2]
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read network output")
	}

	sx := float32(f.Image.Rect.Dx()) / float32(size)
	sy := float32(f.Image.Rect.Dy()) / float32(size)

	var boxes []image.Rectangle
	var scores []float32
	var classes []int
	for i := 0; i < anchors; i++ {
		best, cls := float32(0), -1
		for c := 4; c < attrs; c++ {
			if s := data[c*anchors+i]; s > best {
				best, cls = s, c-4
			}
		}
		if best < candidateFloor || cls < 0 || cls >= len(y.names) {
			continue
		}
		cx, cy := data[i]*sx, data[anchors+i]*sy
		w, h := data[2*anchors+i]*sx, data[3*anchors+i]*sy
		boxes = append(boxes, image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
		scores = append(scores, best)
		classes = append(classes, cls)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, candidateFloor, float32(y.cfg.NMSThreshold))
	dets := make([]video.Detection, 0, len(keep))
	for _, k := range keep {
		r := boxes[k]
		dets = append(dets, video.Detection{
			Label:      y.names[classes[k]],
			Confidence: float64(scores[k]),
			BBox:       video.BBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y},
		})
	}
	return dets, nil
}

// Close releases the network
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}
