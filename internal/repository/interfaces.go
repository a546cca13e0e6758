package repository

import "inspection/internal/models"

// ProfileRepository defines the interface for system configuration profiles.
type ProfileRepository interface {
	Insert(p *models.Profile) (int64, error)
	GetByID(id int64) (*models.Profile, error)
	GetActive() (*models.Profile, error)

	// Activate marks one profile active and every other inactive, atomically.
	Activate(id int64) error

	Update(p *models.Profile) error
	Delete(id int64) error
}

// AnalysisRepository defines the interface for analysis records.
type AnalysisRepository interface {
	// Insert stores the analysis and its instances in one transaction.
	Insert(a *models.Analysis) error

	GetByID(id string) (*models.Analysis, error)
	GetRecent(limit int) ([]models.Analysis, error)
	CountByKind(kind string) (int, error)
}

// RetainedImageRepository mirrors the on-disk retention window, so the
// external layer can answer "last N processed images" from the database.
type RetainedImageRepository interface {
	Insert(img *models.RetainedImage) error
	Delete(id string) error
	Count() (int, error)
	Recent(n int) ([]models.RetainedImage, error)
}

// RoutineRepository defines the interface for routine run records.
type RoutineRepository interface {
	// Insert stores the run and its completed angles in one transaction.
	Insert(r *models.RoutineRun) error

	GetByID(id string) (*models.RoutineRun, error)
	GetRecent(limit int) ([]models.RoutineRun, error)
}
