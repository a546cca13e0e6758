package measure

// BBox is an axis-aligned box in pixel coordinates, corners inclusive.
type BBox struct {
	X1, Y1, X2, Y2 int
}

func (b BBox) Width() float64  { return float64(b.X2 - b.X1) }
func (b BBox) Height() float64 { return float64(b.Y2 - b.Y1) }

// Mask is a binary raster marking the pixels of one segmented instance.
// Row-major; any nonzero byte is inside the mask.
type Mask struct {
	W, H int
	Pix  []uint8
}

func NewMask(w, h int) Mask {
	return Mask{W: w, H: h, Pix: make([]uint8, w*h)}
}

func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Pix[y*m.W+x] != 0
}

func (m Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	m.Pix[y*m.W+x] = 1
}

// Area is the number of mask pixels.
func (m Mask) Area() int {
	n := 0
	for _, p := range m.Pix {
		if p != 0 {
			n++
		}
	}
	return n
}

// Extents returns the width and height of the tight bounding box around the
// mask pixels, or zeros for an empty mask.
func (m Mask) Extents() (w, h int) {
	minX, minY := m.W, m.H
	maxX, maxY := -1, -1
	for y := 0; y < m.H; y++ {
		row := m.Pix[y*m.W : (y+1)*m.W]
		for x, p := range row {
			if p == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return 0, 0
	}
	return maxX - minX + 1, maxY - minY + 1
}
