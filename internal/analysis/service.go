package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"inspection/internal/camera"
	"inspection/internal/events"
	"inspection/internal/logger"
	"inspection/internal/measure"
	"inspection/internal/models"
	"inspection/internal/repository"
	"inspection/internal/storage"
	"inspection/internal/vision"
)

// Capturer provides frames from the inspection camera.
type Capturer interface {
	CaptureFrame() (camera.Frame, error)
}

// ModelProvider returns the resident model for a kind, loading it first if
// needed.
type ModelProvider interface {
	EnsureLoaded(kind vision.Kind) (vision.Model, error)
}

// Renderer draws detected instances over a captured frame and returns the
// annotated image as encoded JPEG.
type Renderer interface {
	Render(frame camera.Frame, instances []vision.Instance) ([]byte, error)
}

// Options carry the default thresholds and scale, applied when no
// configuration profile is active.
type Options struct {
	Confidence      float64
	IoU             float64
	PixelToMMFactor float64
}

// Service runs the capture-infer-measure pipeline and records the outcome.
type Service struct {
	capture  Capturer
	provider ModelProvider
	renderer Renderer
	store    *storage.RetentionStore
	repo     repository.AnalysisRepository
	profiles repository.ProfileRepository
	events   events.Publisher
	log      *logger.Logger
	opts     Options
}

func NewService(capture Capturer, provider ModelProvider, renderer Renderer,
	store *storage.RetentionStore, repo repository.AnalysisRepository,
	profiles repository.ProfileRepository, publisher events.Publisher,
	opts Options, log *logger.Logger) *Service {
	return &Service{
		capture:  capture,
		provider: provider,
		renderer: renderer,
		store:    store,
		repo:     repo,
		profiles: profiles,
		events:   publisher,
		log:      log,
		opts:     opts,
	}
}

// runOptions resolves the thresholds and scale for one run. The active
// profile wins; without one, or when the lookup fails, the configured
// defaults apply.
func (s *Service) runOptions() Options {
	if s.profiles == nil {
		return s.opts
	}
	profile, err := s.profiles.GetActive()
	if err != nil {
		s.log.Warning("Resolving active profile: %v", err)
		return s.opts
	}
	if profile == nil {
		return s.opts
	}
	return Options{
		Confidence:      profile.ConfidenceThreshold,
		IoU:             profile.IoUThreshold,
		PixelToMMFactor: profile.PixelToMMFactor,
	}
}

// Run analyzes one fresh frame with the given model kind. The annotated
// image enters the retention window and the record is persisted before the
// completion event is published. Failed runs are persisted too, with the
// error message and whatever timings were reached.
func (s *Service) Run(kind vision.Kind) (*models.Analysis, error) {
	record, rendered, err := s.analyze(kind)
	if err != nil {
		return nil, err
	}

	img, err := s.store.Retain(record.ID, rendered)
	if err != nil {
		return nil, s.persistFailed(record, fmt.Errorf("retaining %s: %w", record.ID, err))
	}
	record.ImagePath = img.Path

	return s.finish(record)
}

// RunInto is Run with the annotated image written to dir instead of the
// retention window. Routine angles use it for their temporary captures.
func (s *Service) RunInto(kind vision.Kind, dir string) (*models.Analysis, error) {
	record, rendered, err := s.analyze(kind)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, record.ID+".jpg")
	if err := os.WriteFile(path, rendered, 0644); err != nil {
		return nil, s.persistFailed(record, fmt.Errorf("writing %s: %w", path, err))
	}
	record.ImagePath = path

	return s.finish(record)
}

func (s *Service) analyze(kind vision.Kind) (*models.Analysis, []byte, error) {
	started := time.Now()
	opts := s.runOptions()
	record := &models.Analysis{
		ID:         newAnalysisID(),
		Kind:       kind.String(),
		Status:     models.AnalysisCompleted,
		CapturedAt: started,
	}

	model, err := s.provider.EnsureLoaded(kind)
	if err != nil {
		return nil, nil, s.persistFailed(record, err)
	}

	captureStart := time.Now()
	frame, err := s.capture.CaptureFrame()
	if err != nil {
		return nil, nil, s.persistFailed(record, fmt.Errorf("capturing frame: %w", err))
	}
	record.CaptureMs = time.Since(captureStart).Milliseconds()
	record.CapturedAt = frame.CapturedAt

	inferStart := time.Now()
	instances, err := model.Infer(frame, opts.Confidence, opts.IoU)
	if err != nil {
		return nil, nil, s.persistFailed(record, err)
	}
	record.InferMs = time.Since(inferStart).Milliseconds()

	record.InstanceCount = len(instances)
	for _, inst := range instances {
		record.Instances = append(record.Instances, measureInstance(inst, opts.PixelToMMFactor))
	}

	rendered, err := s.renderer.Render(frame, instances)
	if err != nil {
		return nil, nil, s.persistFailed(record, fmt.Errorf("rendering overlay: %w", err))
	}

	record.ElapsedMs = time.Since(started).Milliseconds()
	return record, rendered, nil
}

// persistFailed records a failed run and passes the cause through.
func (s *Service) persistFailed(record *models.Analysis, cause error) error {
	record.Status = models.AnalysisFailed
	record.Error = cause.Error()
	record.Instances = nil
	if err := s.repo.Insert(record); err != nil {
		s.log.Error("Persisting failed analysis %s: %v", record.ID, err)
	}
	s.log.Error("Analysis %s failed: %v", record.ID, cause)
	return cause
}

func (s *Service) finish(record *models.Analysis) (*models.Analysis, error) {
	if err := s.repo.Insert(record); err != nil {
		return nil, fmt.Errorf("persisting %s: %w", record.ID, err)
	}

	if err := s.events.Publish(events.Event{
		Type:      events.TypeAnalysisCompleted,
		SubjectID: record.ID,
		Kind:      record.Kind,
		Count:     record.InstanceCount,
		ElapsedMs: record.ElapsedMs,
	}); err != nil {
		// the analysis is already persisted; a lost event is only logged
		s.log.Warning("Publishing event for %s: %v", record.ID, err)
	}

	s.log.Info("Analysis %s completed, %d instances in %dms",
		record.ID, record.InstanceCount, record.ElapsedMs)
	return record, nil
}

// measureInstance computes the geometry of one instance's mask, converting
// to millimeters when a scale factor is configured.
func measureInstance(inst vision.Instance, factor float64) models.AnalysisInstance {
	result := measure.Compute(inst.BBox, inst.Mask)
	mm := measure.ToMillimeters(result, factor)

	out := models.AnalysisInstance{
		Label:      inst.Label,
		Confidence: inst.Confidence,
		X1:         inst.BBox.X1,
		Y1:         inst.BBox.Y1,
		X2:         inst.BBox.X2,
		Y2:         inst.BBox.Y2,

		AreaPx:       result.AreaPx,
		PerimeterPx:  result.PerimeterPx,
		MaskWidthPx:  result.MaskWidthPx,
		MaskHeightPx: result.MaskHeightPx,

		Eccentricity:   result.Eccentricity,
		OrientationDeg: result.OrientationDeg,

		AreaMM2:      mm.AreaMM,
		PerimeterMM:  mm.PerimeterMM,
		MaskWidthMM:  mm.MaskWidthMM,
		MaskHeightMM: mm.MaskHeightMM,
	}
	return out
}

func newAnalysisID() string {
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("analysis_%s_%d", short, time.Now().Unix())
}
