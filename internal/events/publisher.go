package events

import "time"

// Event types emitted by the inspection line.
const (
	TypeAnalysisCompleted = "analysis.completed"
	TypeRoutineCompleted  = "routine.completed"
	TypeRoutineFailed     = "routine.failed"
	TypeCameraHibernated  = "camera.hibernated"
)

// Event is one notification about inspection activity, published after the
// result is already persisted. Delivery is best effort.
type Event struct {
	Type       string    `json:"type"`
	SubjectID  string    `json:"subject_id"`
	Kind       string    `json:"kind,omitempty"`
	Count      int       `json:"count,omitempty"`
	ElapsedMs  int64     `json:"elapsed_ms,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits events to an external broker.
type Publisher interface {
	Publish(ev Event) error
	Close()
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
func (NopPublisher) Close()              {}
