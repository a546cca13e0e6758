package vision

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"inspection/internal/camera"
	"inspection/internal/logger"
	"inspection/internal/measure"
)

const (
	inputSize  = 640 // model input side, square
	coeffCount = 32  // mask prototype coefficients per detection
)

// GocvBackend loads ONNX segmentation models through the OpenCV DNN module.
type GocvBackend struct {
	log *logger.Logger
}

func NewGocvBackend(log *logger.Logger) *GocvBackend {
	return &GocvBackend{log: log}
}

func (b *GocvBackend) Load(kind Kind, path string) (Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, ErrModelLoadFailure)
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("artifact %s is not a loadable network: %w", path, ErrModelLoadFailure)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("configuring backend: %w", ErrModelLoadFailure)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("configuring target: %w", ErrModelLoadFailure)
	}

	b.log.Info("Loaded %s segmentation model from %s", kind, path)
	return &gocvModel{kind: kind, net: net, log: b.log}, nil
}

// gocvModel runs a YOLO-style segmentation head: one output of box/class
// rows plus one output of mask prototypes.
type gocvModel struct {
	kind Kind
	net  gocv.Net
	mu   sync.Mutex
	log  *logger.Logger
}

func (m *gocvModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// Infer applies the model to one frame, filtering detections below
// confidence and suppressing overlaps above iou. A backend fault is
// recovered and reported as a structured error; it never crashes the caller
// or strands the registry.
func (m *gocvModel) Infer(frame camera.Frame, confidence, iou float64) (instances []Instance, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			instances = nil
			err = NewInferenceError(m.kind, fmt.Errorf("backend fault: %v", r))
		}
	}()

	if frame.Empty() {
		return nil, NewInferenceError(m.kind, fmt.Errorf("empty frame"))
	}

	img, decErr := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if decErr != nil {
		return nil, NewInferenceError(m.kind, fmt.Errorf("decoding frame: %v", decErr))
	}
	defer img.Close()
	if img.Empty() || img.Cols() <= 0 || img.Rows() <= 0 {
		return nil, NewInferenceError(m.kind, fmt.Errorf("malformed frame dimensions %dx%d", img.Cols(), img.Rows()))
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	outputs := m.net.ForwardLayers([]string{"output0", "output1"})
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()
	if len(outputs) < 2 {
		return nil, NewInferenceError(m.kind, fmt.Errorf("model produced %d outputs, want 2", len(outputs)))
	}

	dets, protos, protoH, protoW, parseErr := splitOutputs(outputs)
	if parseErr != nil {
		return nil, NewInferenceError(m.kind, parseErr)
	}
	defer dets.Close()

	frameW, frameH := img.Cols(), img.Rows()
	boxes, scores, classes, coeffs := decodeDetections(dets, confidence, frameW, frameH)
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, float32(confidence), float32(iou))
	for _, idx := range keep {
		box := boxes[idx]
		inst := Instance{
			ClassID:    classes[idx],
			Label:      classLabel(m.kind, classes[idx]),
			Confidence: float64(scores[idx]),
			BBox: measure.BBox{
				X1: box.Min.X, Y1: box.Min.Y,
				X2: box.Max.X, Y2: box.Max.Y,
			},
			MaskCoeffs: coeffs[idx],
		}
		inst.Mask = composeMask(protos, protoH, protoW, coeffs[idx], inst.BBox, frameW, frameH)
		instances = append(instances, inst)
	}
	return instances, nil
}

// splitOutputs validates the two model heads and returns the detection rows
// plus the flattened prototype tensor.
func splitOutputs(outputs []gocv.Mat) (dets gocv.Mat, protos []float32, protoH, protoW int, err error) {
	detDims := outputs[0].Size()
	if len(detDims) != 3 {
		return gocv.Mat{}, nil, 0, 0, fmt.Errorf("detection head has %d dims, want 3", len(detDims))
	}
	rows := detDims[1] // 4 box terms + class scores + mask coefficients
	if rows <= 4+coeffCount {
		return gocv.Mat{}, nil, 0, 0, fmt.Errorf("detection head too small: %d rows", rows)
	}
	dets = outputs[0].Reshape(1, rows)

	protoDims := outputs[1].Size()
	if len(protoDims) != 4 || protoDims[1] != coeffCount {
		dets.Close()
		return gocv.Mat{}, nil, 0, 0, fmt.Errorf("prototype head has unexpected shape %v", protoDims)
	}
	protoH, protoW = protoDims[2], protoDims[3]

	flat, ptrErr := outputs[1].DataPtrFloat32()
	if ptrErr != nil {
		dets.Close()
		return gocv.Mat{}, nil, 0, 0, fmt.Errorf("reading prototypes: %v", ptrErr)
	}
	protos = make([]float32, len(flat))
	copy(protos, flat)
	return dets, protos, protoH, protoW, nil
}

// decodeDetections reads candidate rows (columns of the transposed head),
// keeps those above the confidence threshold and scales boxes to frame
// coordinates.
func decodeDetections(dets gocv.Mat, confidence float64, frameW, frameH int) (
	boxes []image.Rectangle, scores []float32, classes []int, coeffs [][]float32) {

	rows := dets.Rows()
	cols := dets.Cols()
	numClasses := rows - 4 - coeffCount
	sx := float64(frameW) / float64(inputSize)
	sy := float64(frameH) / float64(inputSize)

	for c := 0; c < cols; c++ {
		bestScore := float32(0)
		bestClass := 0
		for k := 0; k < numClasses; k++ {
			if s := dets.GetFloatAt(4+k, c); s > bestScore {
				bestScore = s
				bestClass = k
			}
		}
		if float64(bestScore) < confidence {
			continue
		}

		cx := float64(dets.GetFloatAt(0, c)) * sx
		cy := float64(dets.GetFloatAt(1, c)) * sy
		w := float64(dets.GetFloatAt(2, c)) * sx
		h := float64(dets.GetFloatAt(3, c)) * sy

		x1 := clamp(int(cx-w/2), 0, frameW-1)
		y1 := clamp(int(cy-h/2), 0, frameH-1)
		x2 := clamp(int(cx+w/2), 0, frameW-1)
		y2 := clamp(int(cy+h/2), 0, frameH-1)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		mc := make([]float32, coeffCount)
		for k := 0; k < coeffCount; k++ {
			mc[k] = dets.GetFloatAt(4+numClasses+k, c)
		}

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		scores = append(scores, bestScore)
		classes = append(classes, bestClass)
		coeffs = append(coeffs, mc)
	}
	return boxes, scores, classes, coeffs
}

// composeMask combines the prototype tensor with one detection's
// coefficients inside its bounding box, thresholded at 0.5.
func composeMask(protos []float32, protoH, protoW int, coeffs []float32,
	bbox measure.BBox, frameW, frameH int) measure.Mask {

	mask := measure.NewMask(frameW, frameH)
	plane := protoH * protoW

	for y := bbox.Y1; y <= bbox.Y2 && y < frameH; y++ {
		py := y * protoH / frameH
		for x := bbox.X1; x <= bbox.X2 && x < frameW; x++ {
			px := x * protoW / frameW

			var logit float32
			base := py*protoW + px
			for k := 0; k < coeffCount; k++ {
				logit += coeffs[k] * protos[k*plane+base]
			}
			if sigmoid(logit) > 0.5 {
				mask.Set(x, y)
			}
		}
	}
	return mask
}

func sigmoid(v float32) float64 {
	return 1.0 / (1.0 + math.Exp(-float64(v)))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// classLabel names a class id for the given model kind.
func classLabel(kind Kind, classID int) string {
	switch kind {
	case KindParts:
		if classID == 0 {
			return "coupling"
		}
	case KindDefects:
		if classID == 0 {
			return "defect"
		}
	}
	return fmt.Sprintf("class_%d", classID)
}
