package models

import "time"

// RetainedImage is one processed image inside the retention window.
type RetainedImage struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	RetainedAt time.Time `json:"retained_at"`
}
