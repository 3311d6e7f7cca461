package domain

import "time"

// Snapshot is the persisted form of an in-progress edit session.
// Document carries the markers, so Counter is redundant but saves a full scan on load.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Document  string    `json:"document"`
	Counter   int       `json:"counter"`
	Prefix    string    `json:"prefix,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot creates a snapshot for a fresh session with no tracked changes.
func NewSnapshot(sessionID, document string) *Snapshot {
	return &Snapshot{
		SessionID: sessionID,
		Document:  document,
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a copy of the snapshot. Snapshots hold only values, so a shallow copy suffices.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
