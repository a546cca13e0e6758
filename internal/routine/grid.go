package routine

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Compositor consolidates per-angle images into one labeled composite.
type Compositor interface {
	Compose(paths []string, labels []string) ([]byte, error)
}

// GocvCompositor lays the images out on a near-square grid. Cells take the
// size of the largest image; smaller images are resized to fill their cell.
type GocvCompositor struct{}

func NewGocvCompositor() *GocvCompositor {
	return &GocvCompositor{}
}

var labelColor = color.RGBA{255, 255, 255, 0}

func (c *GocvCompositor) Compose(paths []string, labels []string) ([]byte, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("nothing to compose")
	}
	if len(labels) != len(paths) {
		return nil, fmt.Errorf("got %d labels for %d images", len(labels), len(paths))
	}

	mats := make([]gocv.Mat, 0, len(paths))
	defer func() {
		for i := range mats {
			mats[i].Close()
		}
	}()

	cellW, cellH := 0, 0
	for _, path := range paths {
		m := gocv.IMRead(path, gocv.IMReadColor)
		if m.Empty() {
			return nil, fmt.Errorf("failed to read %s", path)
		}
		mats = append(mats, m)
		if m.Cols() > cellW {
			cellW = m.Cols()
		}
		if m.Rows() > cellH {
			cellH = m.Rows()
		}
	}

	grid := Layout(len(mats))
	canvas := gocv.NewMatWithSize(grid.Rows*cellH, grid.Cols*cellW, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	for i := range mats {
		col, row := grid.CellIndex(i)
		rect := image.Rect(col*cellW, row*cellH, (col+1)*cellW, (row+1)*cellH)

		cell := canvas.Region(rect)
		if mats[i].Cols() != cellW || mats[i].Rows() != cellH {
			gocv.Resize(mats[i], &cell, image.Pt(cellW, cellH), 0, 0, gocv.InterpolationLinear)
		} else {
			mats[i].CopyTo(&cell)
		}

		pt := image.Pt(col*cellW+10, row*cellH+25)
		gocv.PutText(&canvas, labels[i], pt, gocv.FontHersheySimplex, 0.8, labelColor, 2)
		cell.Close()
	}

	buf, err := gocv.IMEncode(".jpg", canvas)
	if err != nil {
		return nil, fmt.Errorf("failed to encode composite: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
