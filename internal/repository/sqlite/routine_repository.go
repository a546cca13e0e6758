package sqlite

import (
	"database/sql"
	"fmt"

	"inspection/internal/models"
)

// RoutineRepository implements repository.RoutineRepository for SQLite.
type RoutineRepository struct {
	db *DB
}

// NewRoutineRepository creates a new SQLite routine repository.
func NewRoutineRepository(db *DB) *RoutineRepository {
	return &RoutineRepository{db: db}
}

// Insert stores the run and its completed angles in a single transaction.
// Failed runs keep the angles that completed before the failure.
func (r *RoutineRepository) Insert(run *models.RoutineRun) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO routine_runs (id, status, num_angles, completed_count,
			total_defects, avg_defects, total_elapsed_ms, grid_image_path,
			failed_angle, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Status, run.NumAngles, run.CompletedCount,
		run.TotalDefects, run.AvgDefects, run.TotalElapsedMs, run.GridImagePath,
		run.FailedAngle, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert routine run: %w", err)
	}

	for i := range run.Angles {
		angle := &run.Angles[i]
		result, err := tx.Exec(`
			INSERT INTO routine_angles (routine_id, angle_index, analysis_id,
				defect_count, elapsed_ms, captured_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, angle.AngleIndex, angle.AnalysisID,
			angle.DefectCount, angle.ElapsedMs, angle.CapturedAt)
		if err != nil {
			return fmt.Errorf("failed to insert routine angle: %w", err)
		}
		angle.ID, _ = result.LastInsertId()
		angle.RoutineID = run.ID
	}

	return tx.Commit()
}

// GetByID retrieves a routine run with its angles.
func (r *RoutineRepository) GetByID(id string) (*models.RoutineRun, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var run models.RoutineRun
	err := r.db.Conn().QueryRow(`
		SELECT id, status, num_angles, completed_count, total_defects,
			avg_defects, total_elapsed_ms, grid_image_path, failed_angle, started_at
		FROM routine_runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Status, &run.NumAngles, &run.CompletedCount, &run.TotalDefects,
		&run.AvgDefects, &run.TotalElapsedMs, &run.GridImagePath, &run.FailedAngle, &run.StartedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get routine run: %w", err)
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, routine_id, angle_index, analysis_id, defect_count, elapsed_ms, captured_at
		FROM routine_angles WHERE routine_id = ? ORDER BY angle_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query routine angles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.RoutineAngle
		if err := rows.Scan(&a.ID, &a.RoutineID, &a.AngleIndex, &a.AnalysisID,
			&a.DefectCount, &a.ElapsedMs, &a.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan routine angle: %w", err)
		}
		run.Angles = append(run.Angles, a)
	}
	return &run, rows.Err()
}

// GetRecent retrieves the most recent routine runs, newest first, without
// their angles.
func (r *RoutineRepository) GetRecent(limit int) ([]models.RoutineRun, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, status, num_angles, completed_count, total_defects,
			avg_defects, total_elapsed_ms, grid_image_path, failed_angle, started_at
		FROM routine_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query routine runs: %w", err)
	}
	defer rows.Close()

	var out []models.RoutineRun
	for rows.Next() {
		var run models.RoutineRun
		if err := rows.Scan(&run.ID, &run.Status, &run.NumAngles, &run.CompletedCount, &run.TotalDefects,
			&run.AvgDefects, &run.TotalElapsedMs, &run.GridImagePath, &run.FailedAngle, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan routine run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
