package camera

import "time"

// Frame is a single captured image, JPEG-encoded for transport between
// services. Width and Height describe the decoded raster.
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.JPEG) == 0
}
