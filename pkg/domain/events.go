package domain

import (
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTracked EventType = "tracked"
	EventUndone  EventType = "undone"
)

// ChangeEvent describes a change entering or leaving the undo log.
type ChangeEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	Type      EventType  `json:"type"`
	Step      int        `json:"step"`
	Change    ChangeType `json:"change"`
	Text      string     `json:"text,omitempty"`
}

// LifecycleHooks defines callbacks for tracker observability.
type LifecycleHooks struct {
	OnTrack func(*ChangeEvent)
	OnUndo  func(*ChangeEvent)
}
