package camera

import (
	"fmt"
	"sync"
	"time"

	"inspection/internal/logger"
)

// Mode is the lifecycle mode of the camera.
type Mode string

const (
	ModeIdle       Mode = "idle"       // connected, no preview loop
	ModePreviewing Mode = "previewing" // frame-production loop running
	ModeHibernated Mode = "hibernated" // loop paused after inactivity, handle kept
)

// State is a snapshot of the camera lifecycle, safe to hand to callers.
type State struct {
	Connected  bool      `json:"connected"`
	Fallback   bool      `json:"fallback"` // true when the webcam replaced the GigE camera
	Mode       Mode      `json:"mode"`
	FPS        int       `json:"fps"`
	Device     string    `json:"device"`
	LastUsedAt time.Time `json:"last_used_at"`
	HasFrame   bool      `json:"has_frame"`
}

// FrameSink receives preview frames as they are produced. Implementations
// must not block; the preview loop drops frames rather than queueing.
type FrameSink interface {
	Publish(Frame)
}

// Manager owns the frame source and is the sole writer of camera state.
//
// Two locks split the concerns: devMu serializes every operation that touches
// the hardware handle (preview ticks and out-of-band captures never overlap),
// while mu guards the lifecycle state and the single-slot frame buffer.
type Manager struct {
	captureTimeout time.Duration
	hibernateAfter time.Duration
	log            *logger.Logger
	sink           FrameSink

	// factories, replaceable in tests
	openGigE   func(address string) Source
	probeLocal func() (Source, error)

	devMu  sync.Mutex // hardware access
	source Source

	mu        sync.Mutex // lifecycle state
	connected bool
	fallback  bool
	mode      Mode
	fps       int
	lastUsed  time.Time
	lastFrame Frame // newest preview frame, overwrite-on-write

	stopCh      chan struct{}
	wg          sync.WaitGroup
	watchdog    *time.Timer
	onHibernate func()
}

func NewManager(captureTimeout, hibernateAfter time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		captureTimeout: captureTimeout,
		hibernateAfter: hibernateAfter,
		log:            log,
		openGigE:       func(address string) Source { return NewGigESource(address) },
		probeLocal:     func() (Source, error) { return ProbeWebcam() },
		mode:           ModeIdle,
	}
}

// SetFrameSink attaches a sink that receives every preview frame.
func (m *Manager) SetFrameSink(sink FrameSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// SetHibernationNotifier attaches a callback invoked after the camera
// auto-hibernates. Called outside the manager's locks.
func (m *Manager) SetHibernationNotifier(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHibernate = fn
}

// Initialize opens the GigE device at address, falling back to a local webcam
// when the GigE camera is unreachable. Only when both fail does it return
// ErrDeviceUnavailable.
func (m *Manager) Initialize(address string) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		if err := m.Release(); err != nil {
			return err
		}
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	src := m.openGigE(address)
	if err := src.Open(); err != nil {
		m.log.Warning("GigE camera at %s unavailable, probing webcam fallback: %v", address, err)

		fallback, probeErr := m.probeLocal()
		if probeErr != nil {
			m.log.Error("No capture device available: %v", probeErr)
			return ErrDeviceUnavailable
		}
		if openErr := fallback.Open(); openErr != nil {
			m.log.Error("Webcam fallback failed to open: %v", openErr)
			return ErrDeviceUnavailable
		}
		src = fallback
		m.fallback = true
	} else {
		m.fallback = false
	}

	m.devMu.Lock()
	m.source = src
	m.devMu.Unlock()

	m.connected = true
	m.mode = ModeIdle
	m.lastUsed = time.Now()
	m.log.Info("Camera initialized on %s", src.Describe())
	return nil
}

// Release stops any preview, closes the device and resets state to defaults.
// Releasing an already-released camera is a no-op success.
func (m *Manager) Release() error {
	m.stopLoop()

	m.mu.Lock()
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	wasConnected := m.connected
	m.connected = false
	m.fallback = false
	m.mode = ModeIdle
	m.fps = 0
	m.lastFrame = Frame{}
	m.mu.Unlock()

	m.devMu.Lock()
	defer m.devMu.Unlock()
	if m.source == nil {
		return nil
	}
	err := m.source.Close()
	m.source = nil
	if err != nil {
		return fmt.Errorf("closing device: %v", err)
	}
	if wasConnected {
		m.log.Info("Camera released")
	}
	return nil
}

// StartPreview starts (or restarts) the frame-production loop at fps.
func (m *Manager) StartPreview(fps int) error {
	if fps <= 0 {
		return fmt.Errorf("invalid preview rate %d", fps)
	}
	m.stopLoop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}

	m.stopCh = make(chan struct{})
	m.fps = fps
	m.mode = ModePreviewing
	m.lastUsed = time.Now()
	m.armWatchdogLocked()

	m.wg.Add(1)
	go m.previewLoop(m.stopCh, fps)

	m.log.Info("Preview started at %d FPS", fps)
	return nil
}

// StopPreview stops the loop and returns the camera to Idle.
func (m *Manager) StopPreview() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.mu.Unlock()

	m.stopLoop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = ModeIdle
	m.log.Info("Preview stopped")
	return nil
}

// Reactivate resumes the preview from hibernation. It is only valid while
// hibernated; use StartPreview otherwise.
func (m *Manager) Reactivate(fps int) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.mode != ModeHibernated {
		m.mu.Unlock()
		return ErrNotHibernated
	}
	m.mu.Unlock()

	m.log.Info("Reactivating preview from hibernation")
	return m.StartPreview(fps)
}

// CaptureFrame takes one frame out-of-band from the preview loop. It counts
// as activity and re-arms the hibernation watchdog.
func (m *Manager) CaptureFrame() (Frame, error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	timeout := m.captureTimeout
	m.mu.Unlock()

	m.devMu.Lock()
	src := m.source
	if src == nil {
		m.devMu.Unlock()
		return Frame{}, ErrNotConnected
	}
	frame, err := src.Grab(timeout)
	m.devMu.Unlock()
	if err != nil {
		return Frame{}, err
	}

	m.KeepAlive()
	return frame, nil
}

// CurrentPreviewFrame returns the newest frame produced by the preview loop,
// or false when none has been produced yet.
func (m *Manager) CurrentPreviewFrame() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastFrame.Empty() {
		return Frame{}, false
	}
	return m.lastFrame, true
}

// KeepAlive marks the camera as in use, postponing hibernation.
func (m *Manager) KeepAlive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsed = time.Now()
	if m.mode == ModePreviewing {
		m.armWatchdogLocked()
	}
}

// State returns a snapshot of the current lifecycle state.
func (m *Manager) State() State {
	m.devMu.Lock()
	device := ""
	if m.source != nil {
		device = m.source.Describe()
	}
	m.devMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Connected:  m.connected,
		Fallback:   m.fallback,
		Mode:       m.mode,
		FPS:        m.fps,
		Device:     device,
		LastUsedAt: m.lastUsed,
		HasFrame:   !m.lastFrame.Empty(),
	}
}

// previewLoop grabs frames at the requested rate until stop is closed.
func (m *Manager) previewLoop(stop chan struct{}, fps int) {
	defer m.wg.Done()

	interval := time.Second / time.Duration(fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.devMu.Lock()
			src := m.source
			if src == nil {
				m.devMu.Unlock()
				return
			}
			frame, err := src.Grab(m.captureTimeout)
			m.devMu.Unlock()

			if err != nil {
				m.log.Warning("Preview grab failed: %v", err)
				continue
			}

			m.mu.Lock()
			m.lastFrame = frame
			sink := m.sink
			m.mu.Unlock()

			if sink != nil {
				sink.Publish(frame)
			}
		}
	}
}

// stopLoop tears down a running preview goroutine, if any.
func (m *Manager) stopLoop() {
	m.mu.Lock()
	stop := m.stopCh
	m.stopCh = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	m.wg.Wait()
}

// armWatchdogLocked (re)schedules automatic hibernation. Callers hold mu.
func (m *Manager) armWatchdogLocked() {
	if m.hibernateAfter <= 0 {
		return
	}
	if m.watchdog != nil {
		m.watchdog.Reset(m.hibernateAfter)
		return
	}
	m.watchdog = time.AfterFunc(m.hibernateAfter, m.autoHibernate)
}

// autoHibernate fires on the watchdog. It only transitions when the camera is
// still previewing and genuinely idle; a release or recent activity wins.
func (m *Manager) autoHibernate() {
	m.mu.Lock()
	if !m.connected || m.mode != ModePreviewing {
		m.mu.Unlock()
		return
	}
	if idle := time.Since(m.lastUsed); idle < m.hibernateAfter {
		m.armWatchdogLocked()
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.stopLoop()

	m.mu.Lock()
	var notify func()
	if m.connected && m.mode == ModePreviewing {
		m.mode = ModeHibernated
		notify = m.onHibernate
		m.log.Info("Camera hibernated after %s of inactivity", m.hibernateAfter)
	}
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
}
