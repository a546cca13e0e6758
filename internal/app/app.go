package app

import (
	"fmt"
	"path/filepath"

	"inspection/internal/analysis"
	"inspection/internal/camera"
	"inspection/internal/config"
	"inspection/internal/events"
	"inspection/internal/logger"
	"inspection/internal/models"
	"inspection/internal/preview"
	"inspection/internal/repository/sqlite"
	"inspection/internal/routine"
	"inspection/internal/storage"
	"inspection/internal/vision"
)

// App wires the inspection line together: camera lifecycle, model registry,
// analysis pipeline, routine orchestration, retention and persistence.
type App struct {
	config   *config.Config
	log      *logger.Logger
	db       *sqlite.DB
	manager  *camera.Manager
	registry *vision.Registry
	store    *storage.RetentionStore
	hub      *preview.Hub
	events   events.Publisher
	analyses *analysis.Service
	routines *routine.Orchestrator
	profiles *sqlite.ProfileRepository
}

func New() (*App, error) {
	cfg := config.Load()

	log, err := logger.New(cfg.LogDirectory)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store, err := storage.NewRetentionStore(cfg.ImageDirectory, cfg.RetentionLimit,
		sqlite.NewRetainedImageRepository(db), log)
	if err != nil {
		db.Close()
		log.Close()
		return nil, fmt.Errorf("initializing retention store: %w", err)
	}

	manager := camera.NewManager(cfg.CaptureTimeout, cfg.HibernationTimeout, log)
	hub := preview.NewHub(log)
	manager.SetFrameSink(hub)

	registry := vision.NewRegistry(vision.NewGocvBackend(log),
		cfg.PartsModelPath, cfg.DefectsModelPath, log)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Warning("Kafka publisher unavailable, events disabled: %v", err)
		} else {
			publisher = kp
		}
	}

	manager.SetHibernationNotifier(func() {
		if err := publisher.Publish(events.Event{
			Type:      events.TypeCameraHibernated,
			SubjectID: "camera",
		}); err != nil {
			log.Warning("Publishing hibernation event: %v", err)
		}
	})

	profiles := sqlite.NewProfileRepository(db)
	analyses := analysis.NewService(manager, registry, analysis.NewGocvRenderer(),
		store, sqlite.NewAnalysisRepository(db), profiles, publisher,
		analysis.Options{
			Confidence:      cfg.ConfidenceThreshold,
			IoU:             cfg.IoUThreshold,
			PixelToMMFactor: cfg.PixelToMMFactor,
		}, log)

	routines := routine.NewOrchestrator(analyses, routine.NewGocvCompositor(),
		sqlite.NewRoutineRepository(db), publisher,
		filepath.Join(cfg.ImageDirectory, "routines"), cfg.RoutineCaptureDelay, log)

	return &App{
		config:   cfg,
		log:      log,
		db:       db,
		manager:  manager,
		registry: registry,
		store:    store,
		hub:      hub,
		events:   publisher,
		analyses: analyses,
		routines: routines,
		profiles: profiles,
	}, nil
}

// Start brings up the preview hub, connects the camera and begins streaming.
func (a *App) Start() error {
	go a.hub.Run()

	if err := a.manager.Initialize(a.config.CameraAddress); err != nil {
		return fmt.Errorf("initializing camera: %w", err)
	}
	if err := a.manager.StartPreview(a.config.PreviewFPS); err != nil {
		return fmt.Errorf("starting preview: %w", err)
	}

	a.log.Info("Inspection line up, camera %s, preview %d fps",
		a.config.CameraAddress, a.config.PreviewFPS)
	return nil
}

// Shutdown releases the camera, unloads the model and closes every backend.
func (a *App) Shutdown() {
	if err := a.manager.Release(); err != nil {
		a.log.Warning("Releasing camera: %v", err)
	}
	if err := a.registry.Unload(); err != nil {
		a.log.Warning("Unloading model: %v", err)
	}
	a.hub.Stop()
	a.events.Close()
	a.db.Close()
	a.log.Info("Inspection line stopped")
	a.log.Close()
}

// Status combines the camera state with the resident model, the retention
// window and connected viewers.
type Status struct {
	Camera        camera.State `json:"camera"`
	ResidentModel string       `json:"resident_model"`
	RetainedCount int          `json:"retained_count"`
	ViewerCount   int          `json:"viewer_count"`
}

func (a *App) Status() Status {
	s := Status{
		Camera:        a.manager.State(),
		RetainedCount: a.store.Len(),
		ViewerCount:   a.hub.ClientCount(),
	}
	if kind, ok := a.registry.Resident(); ok {
		s.ResidentModel = kind.String()
	}
	return s
}

// Camera lifecycle.

// InitializeCamera connects to the given address, or the configured one when
// address is empty.
func (a *App) InitializeCamera(address string) error {
	if address == "" {
		address = a.config.CameraAddress
	}
	return a.manager.Initialize(address)
}

func (a *App) ReleaseCamera() error { return a.manager.Release() }

func (a *App) CameraState() camera.State { return a.manager.State() }

func (a *App) StartPreview() error      { return a.manager.StartPreview(a.config.PreviewFPS) }
func (a *App) StopPreview() error       { return a.manager.StopPreview() }
func (a *App) ReactivatePreview() error { return a.manager.Reactivate(a.config.PreviewFPS) }

func (a *App) CurrentPreviewFrame() (camera.Frame, bool) {
	return a.manager.CurrentPreviewFrame()
}

// Inspection operations.

// CaptureAndStore grabs one raw frame out of band and admits it into the
// retention window.
func (a *App) CaptureAndStore() (models.RetainedImage, error) {
	frame, err := a.manager.CaptureFrame()
	if err != nil {
		return models.RetainedImage{}, err
	}
	id := fmt.Sprintf("capture_%d", frame.CapturedAt.UnixNano())
	return a.store.Retain(id, frame.JPEG)
}

// RunAnalysis captures one frame and analyzes it with the given model kind.
func (a *App) RunAnalysis(kindName string) (*models.Analysis, error) {
	kind, err := vision.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	return a.analyses.Run(kind)
}

// StartRoutine executes a multi-angle defect routine, blocking until it
// completes or fails.
func (a *App) StartRoutine(numAngles int) (*models.RoutineRun, error) {
	if numAngles <= 0 {
		numAngles = a.config.RoutineAngles
	}
	return a.routines.Run(numAngles)
}

// RoutineReport fetches a persisted routine run with its angles.
func (a *App) RoutineReport(id string) (*models.RoutineRun, error) {
	return a.routines.Report(id)
}

// RetainedImages lists the retention window, oldest first.
func (a *App) RetainedImages() []models.RetainedImage {
	return a.store.List()
}

// Profiles exposes the configuration profile repository. The active profile
// drives analysis thresholds and the pixel-to-millimeter scale.
func (a *App) Profiles() *sqlite.ProfileRepository {
	return a.profiles
}
