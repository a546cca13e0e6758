package measure

import "math"

// Result holds the geometric features of one segmented instance. Pixel
// quantities are always present; millimeter quantities are nil until a
// conversion factor is applied. Eccentricity and orientation are nil for
// degenerate masks (zero area or no definable axes), never NaN.
type Result struct {
	BBoxWidthPx    float64  `json:"bbox_width_px"`
	BBoxHeightPx   float64  `json:"bbox_height_px"`
	MaskWidthPx    float64  `json:"mask_width_px"`
	MaskHeightPx   float64  `json:"mask_height_px"`
	PerimeterPx    float64  `json:"perimeter_px"`
	AreaPx         float64  `json:"area_px"`
	Eccentricity   *float64 `json:"eccentricity"`
	OrientationDeg *float64 `json:"orientation_deg"`

	BBoxWidthMM  *float64 `json:"bbox_width_mm,omitempty"`
	BBoxHeightMM *float64 `json:"bbox_height_mm,omitempty"`
	MaskWidthMM  *float64 `json:"mask_width_mm,omitempty"`
	MaskHeightMM *float64 `json:"mask_height_mm,omitempty"`
	PerimeterMM  *float64 `json:"perimeter_mm,omitempty"`
	AreaMM       *float64 `json:"area_mm,omitempty"`
}

// Compute derives all pixel-unit features from a bounding box and its mask.
// It is deterministic: the same raster always yields identical output.
func Compute(bbox BBox, mask Mask) Result {
	r := Result{
		BBoxWidthPx:  bbox.Width(),
		BBoxHeightPx: bbox.Height(),
	}

	w, h := mask.Extents()
	r.MaskWidthPx = float64(w)
	r.MaskHeightPx = float64(h)
	r.AreaPx = float64(mask.Area())
	r.PerimeterPx = perimeter(mask)

	if ecc, theta, ok := principalAxes(mask); ok {
		r.Eccentricity = &ecc
		r.OrientationDeg = &theta
	}
	return r
}

// ToMillimeters fills the millimeter quantities by scaling with a linear
// pixel→mm factor (area scales by factor squared). With no factor configured
// (factor <= 0) the result is returned unchanged, pixel-only.
func ToMillimeters(r Result, factor float64) Result {
	if factor <= 0 {
		return r
	}
	linear := func(v float64) *float64 {
		mm := v * factor
		return &mm
	}
	area := r.AreaPx * factor * factor

	r.BBoxWidthMM = linear(r.BBoxWidthPx)
	r.BBoxHeightMM = linear(r.BBoxHeightPx)
	r.MaskWidthMM = linear(r.MaskWidthPx)
	r.MaskHeightMM = linear(r.MaskHeightPx)
	r.PerimeterMM = linear(r.PerimeterPx)
	r.AreaMM = &area
	return r
}

// principalAxes computes eccentricity and orientation from the second-order
// central moments of the mask pixel coordinates. Eccentricity comes from the
// eigenvalues of the covariance matrix; orientation is the major-axis angle
// normalized to [0°, 360°). ok is false for degenerate masks.
func principalAxes(mask Mask) (ecc, orientationDeg float64, ok bool) {
	var n, sumX, sumY float64
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.Pix[y*mask.W+x] != 0 {
				n++
				sumX += float64(x)
				sumY += float64(y)
			}
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	cx, cy := sumX/n, sumY/n

	var mu20, mu02, mu11 float64
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.Pix[y*mask.W+x] != 0 {
				dx, dy := float64(x)-cx, float64(y)-cy
				mu20 += dx * dx
				mu02 += dy * dy
				mu11 += dx * dy
			}
		}
	}
	mu20 /= n
	mu02 /= n
	mu11 /= n

	sum := mu20 + mu02
	diff := math.Sqrt(4*mu11*mu11 + (mu20-mu02)*(mu20-mu02))
	lambda1 := (sum + diff) / 2
	lambda2 := (sum - diff) / 2

	const eps = 1e-12
	if lambda1 < eps {
		// a single pixel (or colinear degenerate) has no definable axes
		return 0, 0, false
	}

	if lambda2 < lambda1 {
		ecc = math.Sqrt(1 - lambda2/lambda1)
	}

	theta := 0.5 * math.Atan2(2*mu11, mu20-mu02)
	orientationDeg = theta * 180 / math.Pi
	orientationDeg = math.Mod(orientationDeg+360, 360)
	return ecc, orientationDeg, true
}

// Moore-neighbor offsets in clockwise order starting east.
var mooreDirs = [8][2]int{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// perimeter traces the outer boundary of the largest-area treatment of the
// mask using Moore-neighbor tracing and sums the step lengths (1 for
// orthogonal moves, √2 for diagonal). Isolated single pixels contribute 0.
func perimeter(mask Mask) float64 {
	// start at the first mask pixel in raster order
	startX, startY := -1, -1
	for y := 0; y < mask.H && startX < 0; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.Pix[y*mask.W+x] != 0 {
				startX, startY = x, y
				break
			}
		}
	}
	if startX < 0 {
		return 0
	}

	// The start pixel is topmost-leftmost, so tracing enters it from the
	// west; dir = N makes the first clockwise sweep begin at W.
	total := 0.0
	x, y := startX, startY
	dir := 6
	firstLeave := -1
	steps := 0
	maxSteps := 4 * len(mask.Pix)

	for steps < maxSteps {
		steps++
		// back up two octants from the arrival direction, then sweep
		// clockwise for the next boundary pixel
		probe := (dir + 6) % 8
		advanced := false
		for i := 0; i < 8; i++ {
			d := (probe + i) % 8
			nx, ny := x+mooreDirs[d][0], y+mooreDirs[d][1]
			if !mask.At(nx, ny) {
				continue
			}
			// Jacob's criterion: stop when leaving the start pixel in the
			// same direction the trace first left it
			if x == startX && y == startY {
				if firstLeave == -1 {
					firstLeave = d
				} else if d == firstLeave {
					return total
				}
			}
			if d%2 == 0 {
				total += 1
			} else {
				total += math.Sqrt2
			}
			x, y = nx, ny
			dir = d
			advanced = true
			break
		}
		if !advanced {
			return 0 // isolated pixel, no boundary to walk
		}
	}
	return total // safety bound, malformed raster
}
