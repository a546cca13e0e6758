package vision

import (
	"fmt"
	"sync"
	"time"

	"inspection/internal/camera"
	"inspection/internal/logger"
)

// Model is a loaded segmentation model. Close must release all memory held
// by the backend before returning.
type Model interface {
	Infer(frame camera.Frame, confidence, iou float64) ([]Instance, error)
	Close() error
}

// Backend constructs models from artifacts on disk.
type Backend interface {
	Load(kind Kind, path string) (Model, error)
}

// Registry keeps at most one model resident in memory. Loading a different
// kind fully unloads the resident model first; requesting the resident kind
// returns the existing handle without a reload.
type Registry struct {
	backend Backend
	paths   map[Kind]string
	log     *logger.Logger

	mu       sync.Mutex // serializes every load/unload
	current  Model
	kind     Kind
	loaded   bool
	loadedAt time.Time
}

func NewRegistry(backend Backend, partsPath, defectsPath string, log *logger.Logger) *Registry {
	return &Registry{
		backend: backend,
		paths: map[Kind]string{
			KindParts:   partsPath,
			KindDefects: defectsPath,
		},
		log: log,
	}
}

// EnsureLoaded returns a handle to the model of the requested kind, loading
// it (and evicting the other kind) if necessary. Calls are serialized:
// concurrent callers for the same kind share the result of the in-flight
// load instead of triggering a duplicate one.
func (r *Registry) EnsureLoaded(kind Kind) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded && r.kind == kind {
		return r.current, nil
	}

	// evict the other kind before constructing the new model: never two
	// resident simultaneously
	if r.loaded {
		r.log.Info("Unloading %s model to load %s", r.kind, kind)
		if err := r.current.Close(); err != nil {
			r.log.Warning("Closing %s model: %v", r.kind, err)
		}
		r.current = nil
		r.loaded = false
	}

	path, ok := r.paths[kind]
	if !ok || path == "" {
		return nil, fmt.Errorf("no artifact configured for %s: %w", kind, ErrModelLoadFailure)
	}

	model, err := r.backend.Load(kind, path)
	if err != nil {
		// a failed load leaves nothing resident, never a half-initialized handle
		return nil, fmt.Errorf("loading %s from %s: %w", kind, path, err)
	}

	r.current = model
	r.kind = kind
	r.loaded = true
	r.loadedAt = time.Now()
	r.log.Info("Model %s loaded from %s", kind, path)
	return model, nil
}

// Resident reports the currently loaded kind, or false when none is.
func (r *Registry) Resident() (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kind, r.loaded
}

// LoadedAt returns when the resident model was constructed.
func (r *Registry) LoadedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadedAt, r.loaded
}

// Unload frees the resident model, if any.
func (r *Registry) Unload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	r.loaded = false
	if err != nil {
		return fmt.Errorf("closing %s model: %v", r.kind, err)
	}
	r.log.Info("Model %s unloaded", r.kind)
	return nil
}
