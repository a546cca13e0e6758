package analysis

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"inspection/internal/camera"
	"inspection/internal/measure"
	"inspection/internal/vision"
)

// GocvRenderer draws segmentation results over the captured frame: a tinted
// mask, the bounding box and a confidence label per instance.
type GocvRenderer struct{}

func NewGocvRenderer() *GocvRenderer {
	return &GocvRenderer{}
}

var overlayColor = color.RGBA{0, 255, 0, 0}

func (r *GocvRenderer) Render(frame camera.Frame, instances []vision.Instance) ([]byte, error) {
	mat, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	for _, inst := range instances {
		tintMask(&mat, inst.Mask)

		rect := image.Rect(inst.BBox.X1, inst.BBox.Y1, inst.BBox.X2, inst.BBox.Y2)
		gocv.Rectangle(&mat, rect, overlayColor, 2)

		label := fmt.Sprintf("%s %.2f", inst.Label, inst.Confidence)
		pt := image.Pt(inst.BBox.X1, inst.BBox.Y1-5)
		if pt.Y < 10 {
			pt.Y = inst.BBox.Y1 + 15
		}
		gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, overlayColor, 1)
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// tintMask brightens the green channel of every mask pixel.
func tintMask(mat *gocv.Mat, mask measure.Mask) {
	rows, cols := mat.Rows(), mat.Cols()
	ch := mat.Channels()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if !mask.At(x, y) {
				continue
			}
			col := x*ch + 1
			blended := uint8((int(mat.GetUCharAt(y, col)) + 255) / 2)
			mat.SetUCharAt(y, col, blended)
		}
	}
}
