package sqlite

import (
	"fmt"

	"inspection/internal/models"
)

// RetainedImageRepository implements repository.RetainedImageRepository for
// SQLite. It mirrors the on-disk retention window so the last-N query is
// answerable without scanning the image directory.
type RetainedImageRepository struct {
	db *DB
}

// NewRetainedImageRepository creates a new SQLite retained-image repository.
func NewRetainedImageRepository(db *DB) *RetainedImageRepository {
	return &RetainedImageRepository{db: db}
}

// Insert adds a retained-image record.
func (r *RetainedImageRepository) Insert(img *models.RetainedImage) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO retained_images (id, filename, path, retained_at)
		VALUES (?, ?, ?, ?)
	`, img.ID, img.Filename, img.Path, img.RetainedAt)
	if err != nil {
		return fmt.Errorf("failed to insert retained image: %w", err)
	}
	return nil
}

// Delete removes a retained-image record by id.
func (r *RetainedImageRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`DELETE FROM retained_images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete retained image: %w", err)
	}
	return nil
}

// Count returns how many retained-image records exist.
func (r *RetainedImageRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM retained_images`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count retained images: %w", err)
	}
	return count, nil
}

// Recent retrieves the newest n retained images, newest first.
func (r *RetainedImageRepository) Recent(n int) ([]models.RetainedImage, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, filename, path, retained_at
		FROM retained_images ORDER BY retained_at DESC, id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query retained images: %w", err)
	}
	defer rows.Close()

	var out []models.RetainedImage
	for rows.Next() {
		var img models.RetainedImage
		if err := rows.Scan(&img.ID, &img.Filename, &img.Path, &img.RetainedAt); err != nil {
			return nil, fmt.Errorf("failed to scan retained image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
