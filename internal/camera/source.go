package camera

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// Source abstracts a physical capture device. Implementations are not safe
// for concurrent use; the Manager serializes all access.
type Source interface {
	// Open acquires the device handle.
	Open() error
	// Grab reads one frame, waiting at most timeout for it to arrive. A
	// timed-out read stays in flight on the device; the next Grab queues
	// behind it instead of starting a second read.
	Grab(timeout time.Duration) (Frame, error)
	// Close releases the device handle. Safe to call when not open.
	Close() error
	// Describe identifies the device for state reporting and logs.
	Describe() string
}

// GigESource captures from a GigE Vision camera addressed by IP or stream URL.
type GigESource struct {
	address string
	r       *reader
}

func NewGigESource(address string) *GigESource {
	return &GigESource{address: address}
}

func (s *GigESource) Open() error {
	cap, err := gocv.OpenVideoCapture(s.address)
	if err != nil {
		return fmt.Errorf("opening GigE device %s: %w", s.address, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("GigE device %s did not open", s.address)
	}
	s.r = newReader(
		func() (Frame, error) { return readFrame(cap) },
		func() { cap.Close() },
	)
	return nil
}

func (s *GigESource) Grab(timeout time.Duration) (Frame, error) {
	if s.r == nil {
		return Frame{}, ErrNotConnected
	}
	return s.r.grab(timeout)
}

func (s *GigESource) Close() error {
	if s.r == nil {
		return nil
	}
	s.r.close()
	s.r = nil
	return nil
}

func (s *GigESource) Describe() string {
	return fmt.Sprintf("gige:%s", s.address)
}

// WebcamSource captures from a local video device, used as fallback when the
// GigE camera is unreachable.
type WebcamSource struct {
	deviceID int
	r        *reader
}

func NewWebcamSource(deviceID int) *WebcamSource {
	return &WebcamSource{deviceID: deviceID}
}

// ProbeWebcam scans local device indexes and returns a source for the first
// one that actually yields a frame, or ErrDeviceUnavailable.
func ProbeWebcam() (*WebcamSource, error) {
	for id := 0; id < 4; id++ {
		cap, err := gocv.OpenVideoCapture(id)
		if err != nil || !cap.IsOpened() {
			if cap != nil {
				cap.Close()
			}
			continue
		}
		img := gocv.NewMat()
		ok := cap.Read(&img) && !img.Empty()
		img.Close()
		cap.Close()
		if ok {
			return NewWebcamSource(id), nil
		}
	}
	return nil, ErrDeviceUnavailable
}

func (s *WebcamSource) Open() error {
	cap, err := gocv.OpenVideoCapture(s.deviceID)
	if err != nil {
		return fmt.Errorf("opening webcam %d: %w", s.deviceID, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("webcam %d did not open", s.deviceID)
	}
	s.r = newReader(
		func() (Frame, error) { return readFrame(cap) },
		func() { cap.Close() },
	)
	return nil
}

func (s *WebcamSource) Grab(timeout time.Duration) (Frame, error) {
	if s.r == nil {
		return Frame{}, ErrNotConnected
	}
	return s.r.grab(timeout)
}

func (s *WebcamSource) Close() error {
	if s.r == nil {
		return nil
	}
	s.r.close()
	s.r = nil
	return nil
}

func (s *WebcamSource) Describe() string {
	return fmt.Sprintf("webcam:%d", s.deviceID)
}

// reader owns a device handle and performs every read on a single goroutine.
// VideoCapture.Read can block indefinitely on a stalled device; a grab that
// times out leaves that read in flight, and the next grab queues behind it
// rather than touching the handle concurrently.
type reader struct {
	requests chan chan grabResult
	stop     chan struct{}
	done     chan struct{}
}

type grabResult struct {
	frame Frame
	err   error
}

func newReader(read func() (Frame, error), closeDev func()) *reader {
	r := &reader{
		requests: make(chan chan grabResult),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		defer closeDev()
		for {
			select {
			case <-r.stop:
				return
			case reply := <-r.requests:
				frame, err := read()
				reply <- grabResult{frame: frame, err: err}
			}
		}
	}()
	return r
}

func (r *reader) grab(timeout time.Duration) (Frame, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	reply := make(chan grabResult, 1)
	select {
	case r.requests <- reply:
	case <-r.stop:
		return Frame{}, ErrNotConnected
	case <-deadline.C:
		// a previous read is still in flight
		return Frame{}, ErrCaptureTimeout
	}

	select {
	case res := <-reply:
		return res.frame, res.err
	case <-deadline.C:
		return Frame{}, ErrCaptureTimeout
	}
}

// close stops the reader and releases the device. A read stuck on a wedged
// device keeps the goroutine alive until it returns; the handle is released
// then rather than out from under it.
func (r *reader) close() {
	close(r.stop)
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
	}
}

// readFrame does one synchronous read and JPEG-encodes the result.
func readFrame(cap *gocv.VideoCapture) (Frame, error) {
	img := gocv.NewMat()
	defer img.Close()

	if !cap.Read(&img) || img.Empty() {
		return Frame{}, fmt.Errorf("reading frame: %w", ErrCaptureTimeout)
	}
	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding frame: %v", err)
	}
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return Frame{
		JPEG:       data,
		Width:      img.Cols(),
		Height:     img.Rows(),
		CapturedAt: time.Now(),
	}, nil
}
