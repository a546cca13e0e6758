package sqlite

import (
	"database/sql"
	"fmt"

	"inspection/internal/models"
)

// ProfileRepository implements repository.ProfileRepository for SQLite.
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a new SQLite profile repository.
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Insert adds a new profile record to the database.
func (r *ProfileRepository) Insert(p *models.Profile) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO profiles (name, camera_address, parts_model_path, defects_model_path,
			confidence_threshold, iou_threshold, pixel_to_mm_factor, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Name, p.CameraAddress, p.PartsModelPath, p.DefectsModelPath,
		p.ConfidenceThreshold, p.IoUThreshold, p.PixelToMMFactor, p.Active)
	if err != nil {
		return 0, fmt.Errorf("failed to insert profile: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves a profile by its ID.
func (r *ProfileRepository) GetByID(id int64) (*models.Profile, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.scanOne(r.db.Conn().QueryRow(selectProfile+" WHERE id = ?", id))
}

// GetActive retrieves the currently active profile, or nil when none is.
func (r *ProfileRepository) GetActive() (*models.Profile, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.scanOne(r.db.Conn().QueryRow(selectProfile + " WHERE active = 1 LIMIT 1"))
}

// Activate marks one profile active and deactivates the rest atomically.
func (r *ProfileRepository) Activate(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE profiles SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("failed to deactivate profiles: %w", err)
	}

	result, err := tx.Exec(`UPDATE profiles SET active = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to activate profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("profile %d not found", id)
	}

	return tx.Commit()
}

// Update modifies an existing profile record.
func (r *ProfileRepository) Update(p *models.Profile) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		UPDATE profiles SET name = ?, camera_address = ?, parts_model_path = ?,
			defects_model_path = ?, confidence_threshold = ?, iou_threshold = ?,
			pixel_to_mm_factor = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, p.Name, p.CameraAddress, p.PartsModelPath, p.DefectsModelPath,
		p.ConfidenceThreshold, p.IoUThreshold, p.PixelToMMFactor, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// Delete removes a profile record.
func (r *ProfileRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

const selectProfile = `
	SELECT id, name, camera_address, parts_model_path, defects_model_path,
		confidence_threshold, iou_threshold, pixel_to_mm_factor, active,
		created_at, updated_at
	FROM profiles`

func (r *ProfileRepository) scanOne(row *sql.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Name, &p.CameraAddress, &p.PartsModelPath, &p.DefectsModelPath,
		&p.ConfidenceThreshold, &p.IoUThreshold, &p.PixelToMMFactor, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}
