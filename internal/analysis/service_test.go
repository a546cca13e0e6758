package analysis

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inspection/internal/camera"
	"inspection/internal/events"
	"inspection/internal/logger"
	"inspection/internal/measure"
	"inspection/internal/models"
	"inspection/internal/repository/sqlite"
	"inspection/internal/storage"
	"inspection/internal/vision"
)

type fakeCapturer struct {
	frame camera.Frame
	err   error
}

func (c *fakeCapturer) CaptureFrame() (camera.Frame, error) {
	return c.frame, c.err
}

type fakeModel struct {
	instances     []vision.Instance
	err           error
	gotConfidence float64
	gotIoU        float64
}

func (m *fakeModel) Infer(_ camera.Frame, confidence, iou float64) ([]vision.Instance, error) {
	m.gotConfidence = confidence
	m.gotIoU = iou
	return m.instances, m.err
}

func (m *fakeModel) Close() error { return nil }

type fakeProvider struct {
	model *fakeModel
	err   error
}

func (p *fakeProvider) EnsureLoaded(vision.Kind) (vision.Model, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.model, nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(frame camera.Frame, _ []vision.Instance) ([]byte, error) {
	return append([]byte("rendered:"), frame.JPEG...), nil
}

type capturingPublisher struct {
	published []events.Event
}

func (p *capturingPublisher) Publish(ev events.Event) error {
	p.published = append(p.published, ev)
	return nil
}

func (p *capturingPublisher) Close() {}

type testRig struct {
	svc       *Service
	store     *storage.RetentionStore
	repo      *sqlite.AnalysisRepository
	profiles  *sqlite.ProfileRepository
	publisher *capturingPublisher
	provider  *fakeProvider
	capturer  *fakeCapturer
}

func newTestRig(t *testing.T, opts Options) *testRig {
	t.Helper()
	log, err := logger.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	store, err := storage.NewRetentionStore(t.TempDir(), 10, nil, log)
	require.NoError(t, err)

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rig := &testRig{
		store:     store,
		repo:      sqlite.NewAnalysisRepository(db),
		profiles:  sqlite.NewProfileRepository(db),
		publisher: &capturingPublisher{},
		provider:  &fakeProvider{model: &fakeModel{}},
		capturer: &fakeCapturer{frame: camera.Frame{
			JPEG: []byte{0xff, 0xd8}, Width: 640, Height: 480,
			CapturedAt: time.Now().UTC().Truncate(time.Second),
		}},
	}
	rig.svc = NewService(rig.capturer, rig.provider, fakeRenderer{},
		store, rig.repo, rig.profiles, rig.publisher, opts, log)
	return rig
}

// blockInstance builds an instance whose mask is a filled w x h block.
func blockInstance(w, h int) vision.Instance {
	mask := measure.NewMask(640, 480)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask.Set(x, y)
		}
	}
	return vision.Instance{
		Label:      "defect",
		Confidence: 0.9,
		BBox:       measure.BBox{X1: 0, Y1: 0, X2: w - 1, Y2: h - 1},
		Mask:       mask,
	}
}

func TestRunPersistsRetainsAndPublishes(t *testing.T) {
	rig := newTestRig(t, Options{Confidence: 0.5, IoU: 0.4})
	rig.provider.model.instances = []vision.Instance{blockInstance(10, 10)}

	record, err := rig.svc.Run(vision.KindDefects)
	require.NoError(t, err)
	require.Equal(t, "defects", record.Kind)
	require.Equal(t, models.AnalysisCompleted, record.Status)
	require.Equal(t, 1, record.InstanceCount)
	require.Regexp(t, `^analysis_[0-9a-f]{8}_\d+$`, record.ID)

	// annotated image entered the retention window
	require.Equal(t, 1, rig.store.Len())
	data, err := rig.store.Read(record.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("rendered:\xff\xd8"), data)

	// record round-trips with measured geometry
	stored, err := rig.repo.GetByID(record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.Instances, 1)
	inst := stored.Instances[0]
	require.Equal(t, 100.0, inst.AreaPx)
	require.Equal(t, 36.0, inst.PerimeterPx)
	require.Nil(t, inst.AreaMM2, "no scale factor configured")

	require.Len(t, rig.publisher.published, 1)
	ev := rig.publisher.published[0]
	require.Equal(t, events.TypeAnalysisCompleted, ev.Type)
	require.Equal(t, record.ID, ev.SubjectID)
	require.Equal(t, 1, ev.Count)
}

func TestRunConvertsToMillimeters(t *testing.T) {
	rig := newTestRig(t, Options{Confidence: 0.5, IoU: 0.4, PixelToMMFactor: 0.5})
	rig.provider.model.instances = []vision.Instance{blockInstance(10, 10)}

	record, err := rig.svc.Run(vision.KindParts)
	require.NoError(t, err)

	inst := record.Instances[0]
	require.NotNil(t, inst.AreaMM2)
	require.InDelta(t, 25.0, *inst.AreaMM2, 1e-9) // 100 px * 0.5^2
	require.NotNil(t, inst.MaskWidthMM)
	require.InDelta(t, 5.0, *inst.MaskWidthMM, 1e-9)
}

func TestRunUsesActiveProfile(t *testing.T) {
	rig := newTestRig(t, Options{Confidence: 0.5, IoU: 0.4})
	rig.provider.model.instances = []vision.Instance{blockInstance(10, 10)}

	id, err := rig.profiles.Insert(&models.Profile{
		Name:                "calibrated",
		ConfidenceThreshold: 0.7,
		IoUThreshold:        0.3,
		PixelToMMFactor:     0.5,
	})
	require.NoError(t, err)
	require.NoError(t, rig.profiles.Activate(id))

	record, err := rig.svc.Run(vision.KindParts)
	require.NoError(t, err)

	// the profile's thresholds reached the model
	require.InDelta(t, 0.7, rig.provider.model.gotConfidence, 1e-9)
	require.InDelta(t, 0.3, rig.provider.model.gotIoU, 1e-9)

	// and its scale factor drove the persisted measurements
	inst := record.Instances[0]
	require.NotNil(t, inst.AreaMM2)
	require.InDelta(t, 25.0, *inst.AreaMM2, 1e-9)

	stored, err := rig.repo.GetByID(record.ID)
	require.NoError(t, err)
	require.Len(t, stored.Instances, 1)
	require.NotNil(t, stored.Instances[0].AreaMM2)
	require.InDelta(t, 25.0, *stored.Instances[0].AreaMM2, 1e-9)
}

func TestRunDefaultsApplyWithoutActiveProfile(t *testing.T) {
	rig := newTestRig(t, Options{Confidence: 0.5, IoU: 0.4})
	rig.provider.model.instances = []vision.Instance{blockInstance(10, 10)}

	// an inactive profile must not influence the run
	_, err := rig.profiles.Insert(&models.Profile{
		Name: "dormant", ConfidenceThreshold: 0.9, PixelToMMFactor: 2,
	})
	require.NoError(t, err)

	record, err := rig.svc.Run(vision.KindDefects)
	require.NoError(t, err)
	require.InDelta(t, 0.5, rig.provider.model.gotConfidence, 1e-9)
	require.Nil(t, record.Instances[0].AreaMM2)
}

func TestRunIntoWritesOutsideRetention(t *testing.T) {
	rig := newTestRig(t, Options{Confidence: 0.5, IoU: 0.4})
	dir := t.TempDir()

	record, err := rig.svc.RunInto(vision.KindDefects, dir)
	require.NoError(t, err)
	require.Equal(t, 0, rig.store.Len())

	data, err := os.ReadFile(filepath.Join(dir, record.ID+".jpg"))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	// still persisted and announced
	stored, err := rig.repo.GetByID(record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, rig.publisher.published, 1)
}

func TestRunPersistsFailedRecordOnCaptureError(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.capturer.err = camera.ErrNotConnected

	_, err := rig.svc.Run(vision.KindDefects)
	require.ErrorIs(t, err, camera.ErrNotConnected)
	require.Empty(t, rig.publisher.published)
	require.Equal(t, 0, rig.store.Len())

	// the failure itself is on record
	recent, err := rig.repo.GetRecent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, models.AnalysisFailed, recent[0].Status)
	require.Contains(t, recent[0].Error, "capturing frame")
}

func TestRunPropagatesInferenceError(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.provider.model.err = vision.NewInferenceError(vision.KindDefects, errors.New("boom"))

	_, err := rig.svc.Run(vision.KindDefects)
	require.ErrorIs(t, err, vision.ErrInference)
}

func TestRunPropagatesLoadError(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.provider.err = vision.ErrModelLoadFailure

	_, err := rig.svc.Run(vision.KindDefects)
	require.ErrorIs(t, err, vision.ErrModelLoadFailure)
}
