package routine

import "math"

// GridLayout is the cell arrangement used to consolidate per-angle images
// into one composite.
type GridLayout struct {
	Cols int
	Rows int
}

// Layout picks a near-square grid for n cells: columns grow first, rows
// follow. n=6 yields 3x2, n=4 yields 2x2, n=7 yields 3x3 with two empty
// cells.
func Layout(n int) GridLayout {
	if n <= 0 {
		return GridLayout{}
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	return GridLayout{Cols: cols, Rows: rows}
}

// CellIndex maps a 0-based image index to its grid position, row-major.
func (g GridLayout) CellIndex(i int) (col, row int) {
	return i % g.Cols, i / g.Cols
}
