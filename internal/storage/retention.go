package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"inspection/internal/logger"
	"inspection/internal/models"
	"inspection/internal/repository"
)

// RetentionStore keeps at most limit processed images on disk. Inserting
// beyond the limit evicts the oldest entry, file included, before the new
// one is admitted. An optional index mirrors the window into the database;
// the filesystem stays authoritative, so index failures are logged, not
// fatal.
type RetentionStore struct {
	dir   string
	limit int
	index repository.RetainedImageRepository // may be nil
	log   *logger.Logger

	mu     sync.Mutex
	images []models.RetainedImage // FIFO order, index 0 oldest
}

func NewRetentionStore(dir string, limit int, index repository.RetainedImageRepository,
	log *logger.Logger) (*RetentionStore, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("retention limit must be positive, got %d", limit)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &RetentionStore{dir: dir, limit: limit, index: index, log: log}, nil
}

// Retain writes data under a timestamped filename derived from id and admits
// it into the window, evicting the oldest entry when the store is full.
func (s *RetentionStore) Retain(id string, data []byte) (models.RetainedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	filename := fmt.Sprintf("%s_%s.jpg", now.Format("2006-01-02_15-04-05"), id)
	fullpath := filepath.Join(s.dir, filename)

	if err := os.WriteFile(fullpath, data, 0644); err != nil {
		return models.RetainedImage{}, fmt.Errorf("saving image %s: %w", filename, err)
	}

	img := models.RetainedImage{ID: id, Filename: filename, Path: fullpath, RetainedAt: now}
	s.images = append(s.images, img)
	if s.index != nil {
		if err := s.index.Insert(&img); err != nil {
			s.log.Warning("Indexing %s: %v", filename, err)
		}
	}

	for len(s.images) > s.limit {
		oldest := s.images[0]
		s.images = s.images[1:]
		if err := os.Remove(oldest.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warning("Evicting %s: %v", oldest.Filename, err)
		} else {
			s.log.Info("Evicted %s, retention window full at %d", oldest.Filename, s.limit)
		}
		if s.index != nil {
			if err := s.index.Delete(oldest.ID); err != nil {
				s.log.Warning("Unindexing %s: %v", oldest.Filename, err)
			}
		}
	}
	return img, nil
}

// List returns the retained entries oldest first.
func (s *RetentionStore) List() []models.RetainedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RetainedImage, len(s.images))
	copy(out, s.images)
	return out
}

// Read returns the bytes of a retained image by id.
func (s *RetentionStore) Read(id string) ([]byte, error) {
	s.mu.Lock()
	var path string
	for _, img := range s.images {
		if img.ID == id {
			path = img.Path
			break
		}
	}
	s.mu.Unlock()

	if path == "" {
		return nil, fmt.Errorf("image %s is not retained", id)
	}
	return os.ReadFile(path)
}

// Len reports how many images are currently retained.
func (s *RetentionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}
