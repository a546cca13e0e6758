package vision

import "inspection/internal/measure"

// Instance is one detected object in one frame: its class, confidence,
// bounding box and binary mask. Instances are produced by inference and
// consumed once by measurement; they are not retained.
type Instance struct {
	ClassID    int
	Label      string
	Confidence float64
	BBox       measure.BBox
	MaskCoeffs []float32 // opaque prototype coefficients from the model head
	Mask       measure.Mask
}
