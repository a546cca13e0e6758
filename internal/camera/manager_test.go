package camera

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inspection/internal/logger"
)

// fakeSource yields synthetic frames and records overlapping access.
type fakeSource struct {
	name     string
	failOpen bool
	failGrab error
	grabs    atomic.Int64
	inFlight atomic.Int64
	overlap  atomic.Bool
	open     bool
}

func (f *fakeSource) Open() error {
	if f.failOpen {
		return errors.New("open refused")
	}
	f.open = true
	return nil
}

func (f *fakeSource) Grab(timeout time.Duration) (Frame, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)

	time.Sleep(time.Millisecond) // widen the race window
	f.grabs.Add(1)
	if f.failGrab != nil {
		return Frame{}, f.failGrab
	}
	return Frame{JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 4, Height: 4, CapturedAt: time.Now()}, nil
}

func (f *fakeSource) Close() error {
	f.open = false
	return nil
}

func (f *fakeSource) Describe() string { return f.name }

func newTestManager(t *testing.T, src *fakeSource, hibernateAfter time.Duration) *Manager {
	t.Helper()
	log, err := logger.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	m := NewManager(100*time.Millisecond, hibernateAfter, log)
	m.openGigE = func(string) Source { return src }
	m.probeLocal = func() (Source, error) { return nil, ErrDeviceUnavailable }
	return m
}

func TestManagerInitializeAndRelease(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 0)

	require.NoError(t, m.Initialize("test"))
	st := m.State()
	require.True(t, st.Connected)
	require.False(t, st.Fallback)
	require.Equal(t, ModeIdle, st.Mode)
	require.Equal(t, "gige:test", st.Device)

	require.NoError(t, m.Release())
	st = m.State()
	require.False(t, st.Connected)
	require.False(t, src.open)

	// releasing again is a no-op success
	require.NoError(t, m.Release())
}

func TestManagerFallsBackToWebcam(t *testing.T) {
	gige := &fakeSource{name: "gige:test", failOpen: true}
	webcam := &fakeSource{name: "webcam:0"}
	m := newTestManager(t, gige, 0)
	m.probeLocal = func() (Source, error) { return webcam, nil }

	require.NoError(t, m.Initialize("test"))
	st := m.State()
	require.True(t, st.Connected)
	require.True(t, st.Fallback)
	require.Equal(t, "webcam:0", st.Device)
}

func TestManagerDeviceUnavailable(t *testing.T) {
	gige := &fakeSource{name: "gige:test", failOpen: true}
	m := newTestManager(t, gige, 0)

	err := m.Initialize("test")
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	require.False(t, m.State().Connected)
}

func TestManagerOperationsRequireConnection(t *testing.T) {
	m := newTestManager(t, &fakeSource{}, 0)

	require.ErrorIs(t, m.StartPreview(5), ErrNotConnected)
	require.ErrorIs(t, m.StopPreview(), ErrNotConnected)
	_, err := m.CaptureFrame()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestManagerPreviewProducesFrames(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 0)
	require.NoError(t, m.Initialize("test"))

	require.NoError(t, m.StartPreview(50))
	require.Equal(t, ModePreviewing, m.State().Mode)

	require.Eventually(t, func() bool {
		_, ok := m.CurrentPreviewFrame()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopPreview())
	require.Equal(t, ModeIdle, m.State().Mode)
}

func TestManagerCaptureDoesNotOverlapPreview(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 0)
	require.NoError(t, m.Initialize("test"))
	require.NoError(t, m.StartPreview(100))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := m.CaptureFrame()
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, m.StopPreview())

	require.False(t, src.overlap.Load(), "device accessed concurrently")
}

func TestManagerCaptureTimeout(t *testing.T) {
	src := &fakeSource{name: "gige:test", failGrab: ErrCaptureTimeout}
	m := newTestManager(t, src, 0)
	require.NoError(t, m.Initialize("test"))

	_, err := m.CaptureFrame()
	require.ErrorIs(t, err, ErrCaptureTimeout)
}

func TestManagerHibernatesAfterIdle(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 60*time.Millisecond)
	require.NoError(t, m.Initialize("test"))
	require.NoError(t, m.StartPreview(100))

	require.Eventually(t, func() bool {
		return m.State().Mode == ModeHibernated
	}, time.Second, 5*time.Millisecond)

	// hibernation keeps the device handle
	st := m.State()
	require.True(t, st.Connected)
	require.True(t, src.open)
}

func TestManagerNotifiesOnHibernation(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 40*time.Millisecond)

	var notified atomic.Int64
	m.SetHibernationNotifier(func() { notified.Add(1) })

	require.NoError(t, m.Initialize("test"))
	require.NoError(t, m.StartPreview(100))

	require.Eventually(t, func() bool {
		return notified.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, ModeHibernated, m.State().Mode)
}

func TestManagerCaptureResetsHibernation(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 80*time.Millisecond)
	require.NoError(t, m.Initialize("test"))
	require.NoError(t, m.StartPreview(100))

	// keep touching the camera just before the threshold elapses
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		_, err := m.CaptureFrame()
		require.NoError(t, err)
		require.Equal(t, ModePreviewing, m.State().Mode)
	}

	// stop touching it and the watchdog fires
	require.Eventually(t, func() bool {
		return m.State().Mode == ModeHibernated
	}, time.Second, 5*time.Millisecond)
}

func TestManagerReactivateFromHibernation(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 40*time.Millisecond)
	require.NoError(t, m.Initialize("test"))

	require.ErrorIs(t, m.Reactivate(5), ErrNotHibernated)

	require.NoError(t, m.StartPreview(100))
	require.Eventually(t, func() bool {
		return m.State().Mode == ModeHibernated
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Reactivate(10))
	st := m.State()
	require.Equal(t, ModePreviewing, st.Mode)
	require.Equal(t, 10, st.FPS)
}

func TestManagerReleaseDuringPreview(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 30*time.Millisecond)
	require.NoError(t, m.Initialize("test"))
	require.NoError(t, m.StartPreview(100))

	require.NoError(t, m.Release())
	st := m.State()
	require.False(t, st.Connected)
	require.Equal(t, ModeIdle, st.Mode)

	// the watchdog never hibernates across a release
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, ModeIdle, m.State().Mode)
}

func TestManagerPublishesToSink(t *testing.T) {
	src := &fakeSource{name: "gige:test"}
	m := newTestManager(t, src, 0)

	var published atomic.Int64
	m.SetFrameSink(sinkFunc(func(Frame) { published.Add(1) }))

	require.NoError(t, m.Initialize("test"))
	require.NoError(t, m.StartPreview(100))
	require.Eventually(t, func() bool {
		return published.Load() > 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, m.StopPreview())
}

type sinkFunc func(Frame)

func (f sinkFunc) Publish(frame Frame) { f(frame) }
