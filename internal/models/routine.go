package models

import "time"

// Routine run statuses.
const (
	RoutineInProgress = "in_progress"
	RoutineCompleted  = "completed"
	RoutineFailed     = "failed"
)

// RoutineRun is one multi-angle inspection routine: a fixed number of
// sequential captures analyzed for defects and consolidated into a single
// grid image plus an aggregate report.
type RoutineRun struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	NumAngles      int       `json:"num_angles"`
	CompletedCount int       `json:"completed_count"`
	TotalDefects   int       `json:"total_defects"`
	AvgDefects     float64   `json:"avg_defects"`
	TotalElapsedMs int64     `json:"total_elapsed_ms"`
	GridImagePath  string    `json:"grid_image_path"`
	FailedAngle    int       `json:"failed_angle,omitempty"` // 1-based; 0 when completed or failed consolidating
	StartedAt      time.Time `json:"started_at"`

	Angles []RoutineAngle `json:"angles,omitempty"`
}

// RoutineAngle is one completed capture position within a routine run.
type RoutineAngle struct {
	ID          int64     `json:"id"`
	RoutineID   string    `json:"routine_id"`
	AngleIndex  int       `json:"angle_index"` // 1-based
	AnalysisID  string    `json:"analysis_id"`
	DefectCount int       `json:"defect_count"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	CapturedAt  time.Time `json:"captured_at"`
}
