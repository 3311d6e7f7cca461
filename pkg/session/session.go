package session

import (
	"fmt"
	"time"

	"github.com/aretw0/marginalia/pkg/codec"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
)

// Session is one edit session: a tracked document and the tracker that owns its markers.
// A Session is not safe for concurrent use; the Manager hands it to one caller at a time.
type Session struct {
	ID       string
	Document *etree.Document
	Tracker  *tracking.Tracker
}

// Fork returns an independent copy of the session under id.
// The document is deep-copied with its markers and the tracker is cloned.
func (s *Session) Fork(id string) *Session {
	return &Session{
		ID:       id,
		Document: s.Document.Copy(),
		Tracker:  s.Tracker.Clone(),
	}
}

// Snapshot serializes the session for storage.
func (s *Session) Snapshot() (*domain.Snapshot, error) {
	codec.Canonical(s.Document)
	xml, err := s.Document.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session %s: %w", s.ID, err)
	}
	return &domain.Snapshot{
		SessionID: s.ID,
		Document:  xml,
		Counter:   s.Tracker.Counter(),
		Prefix:    s.Tracker.Prefix(),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Clean renders the document without markers.
func (s *Session) Clean() (string, error) {
	return s.Tracker.RemoveChangeTracking(s.Document).WriteToString()
}

// Parse reads an XML document that must have a root element.
func Parse(xml string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, &domain.DecodeError{Payload: xml, Err: err}
	}
	if doc.Root() == nil {
		return nil, &domain.DecodeError{Payload: xml, Err: fmt.Errorf("document has no root element")}
	}
	return doc, nil
}

// fromSnapshot rebuilds a session. The snapshot's prefix and counter override opts.
func fromSnapshot(snap *domain.Snapshot, opts ...tracking.Option) (*Session, error) {
	doc, err := Parse(snap.Document)
	if err != nil {
		return nil, err
	}
	all := make([]tracking.Option, 0, len(opts)+2)
	all = append(all, opts...)
	if snap.Prefix != "" {
		if err := tracking.ValidatePrefix(snap.Prefix); err != nil {
			return nil, &domain.ConsistencyError{Step: snap.Counter, Reason: err.Error()}
		}
		all = append(all, tracking.WithPrefix(snap.Prefix))
	}
	all = append(all, tracking.WithCounter(snap.Counter))
	return &Session{
		ID:       snap.SessionID,
		Document: doc,
		Tracker:  tracking.New(all...),
	}, nil
}
