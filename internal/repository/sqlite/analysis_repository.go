package sqlite

import (
	"database/sql"
	"fmt"

	"inspection/internal/models"
)

// AnalysisRepository implements repository.AnalysisRepository for SQLite.
type AnalysisRepository struct {
	db *DB
}

// NewAnalysisRepository creates a new SQLite analysis repository.
func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Insert stores the analysis and its instances in a single transaction.
func (r *AnalysisRepository) Insert(a *models.Analysis) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO analyses (id, kind, status, error, image_path, instance_count,
			capture_ms, infer_ms, elapsed_ms, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Kind, a.Status, a.Error, a.ImagePath, a.InstanceCount,
		a.CaptureMs, a.InferMs, a.ElapsedMs, a.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	for i := range a.Instances {
		inst := &a.Instances[i]
		result, err := tx.Exec(`
			INSERT INTO analysis_instances (analysis_id, label, confidence,
				x1, y1, x2, y2,
				area_px, perimeter_px, mask_width_px, mask_height_px,
				eccentricity, orientation_deg,
				area_mm2, perimeter_mm, mask_width_mm, mask_height_mm)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, inst.Label, inst.Confidence,
			inst.X1, inst.Y1, inst.X2, inst.Y2,
			inst.AreaPx, inst.PerimeterPx, inst.MaskWidthPx, inst.MaskHeightPx,
			inst.Eccentricity, inst.OrientationDeg,
			inst.AreaMM2, inst.PerimeterMM, inst.MaskWidthMM, inst.MaskHeightMM)
		if err != nil {
			return fmt.Errorf("failed to insert analysis instance: %w", err)
		}
		inst.ID, _ = result.LastInsertId()
		inst.AnalysisID = a.ID
	}

	return tx.Commit()
}

// GetByID retrieves an analysis and its instances by ID.
func (r *AnalysisRepository) GetByID(id string) (*models.Analysis, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var a models.Analysis
	err := r.db.Conn().QueryRow(`
		SELECT id, kind, status, error, image_path, instance_count,
			capture_ms, infer_ms, elapsed_ms, captured_at
		FROM analyses WHERE id = ?
	`, id).Scan(&a.ID, &a.Kind, &a.Status, &a.Error, &a.ImagePath, &a.InstanceCount,
		&a.CaptureMs, &a.InferMs, &a.ElapsedMs, &a.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	instances, err := r.instancesFor(id)
	if err != nil {
		return nil, err
	}
	a.Instances = instances
	return &a, nil
}

// GetRecent retrieves the most recent analyses, newest first, without
// their instances.
func (r *AnalysisRepository) GetRecent(limit int) ([]models.Analysis, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, kind, status, error, image_path, instance_count,
			capture_ms, infer_ms, elapsed_ms, captured_at
		FROM analyses ORDER BY captured_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []models.Analysis
	for rows.Next() {
		var a models.Analysis
		if err := rows.Scan(&a.ID, &a.Kind, &a.Status, &a.Error, &a.ImagePath, &a.InstanceCount,
			&a.CaptureMs, &a.InferMs, &a.ElapsedMs, &a.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByKind returns how many analyses of the given kind are stored.
func (r *AnalysisRepository) CountByKind(kind string) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM analyses WHERE kind = ?`, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	return count, nil
}

func (r *AnalysisRepository) instancesFor(analysisID string) ([]models.AnalysisInstance, error) {
	rows, err := r.db.Conn().Query(`
		SELECT id, analysis_id, label, confidence,
			x1, y1, x2, y2,
			area_px, perimeter_px, mask_width_px, mask_height_px,
			eccentricity, orientation_deg,
			area_mm2, perimeter_mm, mask_width_mm, mask_height_mm
		FROM analysis_instances WHERE analysis_id = ? ORDER BY id
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var out []models.AnalysisInstance
	for rows.Next() {
		var inst models.AnalysisInstance
		if err := rows.Scan(&inst.ID, &inst.AnalysisID, &inst.Label, &inst.Confidence,
			&inst.X1, &inst.Y1, &inst.X2, &inst.Y2,
			&inst.AreaPx, &inst.PerimeterPx, &inst.MaskWidthPx, &inst.MaskHeightPx,
			&inst.Eccentricity, &inst.OrientationDeg,
			&inst.AreaMM2, &inst.PerimeterMM, &inst.MaskWidthMM, &inst.MaskHeightMM); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
