package routine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"inspection/internal/events"
	"inspection/internal/logger"
	"inspection/internal/models"
	"inspection/internal/repository"
	"inspection/internal/vision"
)

// Analyzer runs one defect analysis writing its annotated image to dir.
type Analyzer interface {
	RunInto(kind vision.Kind, dir string) (*models.Analysis, error)
}

// Orchestrator drives a multi-angle inspection routine: a fixed number of
// sequential captures, each analyzed for defects, consolidated into one
// composite image and an aggregate report. Angles are strictly sequential;
// the camera must settle between positions, so every capture is preceded by
// the configured delay.
type Orchestrator struct {
	analyzer   Analyzer
	compositor Compositor
	repo       repository.RoutineRepository
	events     events.Publisher
	log        *logger.Logger

	outputDir string
	delay     time.Duration
}

func NewOrchestrator(analyzer Analyzer, compositor Compositor,
	repo repository.RoutineRepository, publisher events.Publisher,
	outputDir string, delay time.Duration, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		analyzer:   analyzer,
		compositor: compositor,
		repo:       repo,
		events:     publisher,
		log:        log,
		outputDir:  outputDir,
		delay:      delay,
	}
}

// Run executes a routine of numAngles captures. On failure at any angle the
// run is persisted as failed with every angle completed so far, and the
// returned error reports the failing angle.
func (o *Orchestrator) Run(numAngles int) (*models.RoutineRun, error) {
	if numAngles <= 0 {
		return nil, fmt.Errorf("routine needs at least one angle, got %d", numAngles)
	}

	run := &models.RoutineRun{
		ID:        newRoutineID(),
		Status:    models.RoutineInProgress,
		NumAngles: numAngles,
		StartedAt: time.Now(),
	}
	o.log.Info("Routine %s started, %d angles", run.ID, numAngles)

	tmpDir, err := os.MkdirTemp("", run.ID)
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var imagePaths []string
	for i := 1; i <= numAngles; i++ {
		time.Sleep(o.delay)

		record, err := o.analyzer.RunInto(vision.KindDefects, tmpDir)
		if err != nil {
			o.log.Error("Routine %s failed at angle %d: %v", run.ID, i, err)
			return o.fail(run, i, err)
		}

		run.Angles = append(run.Angles, models.RoutineAngle{
			AngleIndex:  i,
			AnalysisID:  record.ID,
			DefectCount: record.InstanceCount,
			ElapsedMs:   record.ElapsedMs,
			CapturedAt:  record.CapturedAt,
		})
		imagePaths = append(imagePaths, record.ImagePath)
		o.log.Info("Routine %s angle %d/%d done, %d defects",
			run.ID, i, numAngles, record.InstanceCount)
	}

	labels := make([]string, numAngles)
	for i := range labels {
		labels[i] = fmt.Sprintf("Angle %d", i+1)
	}
	// every angle is done; failures past this point are consolidation
	// failures and carry no angle number
	composite, err := o.compositor.Compose(imagePaths, labels)
	if err != nil {
		return o.fail(run, 0, fmt.Errorf("composing grid: %w", err))
	}

	if err := os.MkdirAll(o.outputDir, 0755); err != nil {
		return o.fail(run, 0, fmt.Errorf("creating output directory: %w", err))
	}
	gridPath := filepath.Join(o.outputDir, run.ID+".jpg")
	if err := os.WriteFile(gridPath, composite, 0644); err != nil {
		return o.fail(run, 0, fmt.Errorf("writing composite: %w", err))
	}

	run.Status = models.RoutineCompleted
	run.GridImagePath = gridPath
	o.aggregate(run)

	if err := o.repo.Insert(run); err != nil {
		return nil, fmt.Errorf("persisting routine %s: %w", run.ID, err)
	}
	o.publish(events.TypeRoutineCompleted, run)

	o.log.Info("Routine %s completed, %d defects across %d angles in %dms",
		run.ID, run.TotalDefects, run.NumAngles, run.TotalElapsedMs)
	return run, nil
}

// Report returns a persisted routine run with its angles.
func (o *Orchestrator) Report(id string) (*models.RoutineRun, error) {
	run, err := o.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("routine %s not found", id)
	}
	return run, nil
}

func (o *Orchestrator) fail(run *models.RoutineRun, angle int, cause error) (*models.RoutineRun, error) {
	run.Status = models.RoutineFailed
	run.FailedAngle = angle
	o.aggregate(run)

	if err := o.repo.Insert(run); err != nil {
		o.log.Error("Persisting failed routine %s: %v", run.ID, err)
	}
	o.publish(events.TypeRoutineFailed, run)
	return run, &RoutineError{Angle: angle, Err: cause}
}

func (o *Orchestrator) aggregate(run *models.RoutineRun) {
	run.CompletedCount = len(run.Angles)
	for _, a := range run.Angles {
		run.TotalDefects += a.DefectCount
	}
	if run.CompletedCount > 0 {
		run.AvgDefects = float64(run.TotalDefects) / float64(run.CompletedCount)
	}
	run.TotalElapsedMs = time.Since(run.StartedAt).Milliseconds()
}

func (o *Orchestrator) publish(eventType string, run *models.RoutineRun) {
	if err := o.events.Publish(events.Event{
		Type:      eventType,
		SubjectID: run.ID,
		Count:     run.TotalDefects,
		ElapsedMs: run.TotalElapsedMs,
	}); err != nil {
		o.log.Warning("Publishing event for %s: %v", run.ID, err)
	}
}

func newRoutineID() string {
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("routine_%s_%s", short, time.Now().Format("20060102150405"))
}
