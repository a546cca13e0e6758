package models

import "time"

// Analysis statuses.
const (
	AnalysisCompleted = "completed"
	AnalysisFailed    = "failed"
)

// Analysis is one inference pass over one captured frame. Failed passes are
// persisted too, with the error message and whatever timings were reached.
type Analysis struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"` // "parts" or "defects"
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	ImagePath     string    `json:"image_path"`
	InstanceCount int       `json:"instance_count"`
	CaptureMs     int64     `json:"capture_ms"`
	InferMs       int64     `json:"infer_ms"`
	ElapsedMs     int64     `json:"elapsed_ms"`
	CapturedAt    time.Time `json:"captured_at"`

	Instances []AnalysisInstance `json:"instances,omitempty"`
}

// AnalysisInstance is one detected object within an analysis, with the
// geometry measured from its segmentation mask. Pixel values are always
// present; millimeter values are zero when no scale factor is configured.
type AnalysisInstance struct {
	ID         int64   `json:"id"`
	AnalysisID string  `json:"analysis_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`

	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`

	AreaPx       float64 `json:"area_px"`
	PerimeterPx  float64 `json:"perimeter_px"`
	MaskWidthPx  float64 `json:"mask_width_px"`
	MaskHeightPx float64 `json:"mask_height_px"`

	Eccentricity   *float64 `json:"eccentricity"`
	OrientationDeg *float64 `json:"orientation_deg"`

	AreaMM2      *float64 `json:"area_mm2,omitempty"`
	PerimeterMM  *float64 `json:"perimeter_mm,omitempty"`
	MaskWidthMM  *float64 `json:"mask_width_mm,omitempty"`
	MaskHeightMM *float64 `json:"mask_height_mm,omitempty"`
}
