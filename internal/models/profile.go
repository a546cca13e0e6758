package models

import "time"

// Profile is one named system configuration. Exactly one profile is active
// at a time; activating a profile deactivates the rest.
type Profile struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	CameraAddress       string    `json:"camera_address"`
	PartsModelPath      string    `json:"parts_model_path"`
	DefectsModelPath    string    `json:"defects_model_path"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	IoUThreshold        float64   `json:"iou_threshold"`
	PixelToMMFactor     float64   `json:"pixel_to_mm_factor"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
