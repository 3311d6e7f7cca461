package middleware

import (
	"context"
	"fmt"

	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/ports"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
)

type integrityMiddleware struct {
	next ports.SnapshotStore
}

// NewIntegrityMiddleware checks every snapshot against its own markers on the way in and out:
// the document must parse, its steps must run 1..Counter exactly once each.
// A mismatch is reported as a domain.ConsistencyError.
//
// It must sit outside any encryption middleware, where documents are plain.
func NewIntegrityMiddleware() Middleware {
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &integrityMiddleware{next: next}
	}
}

func (m *integrityMiddleware) Save(ctx context.Context, sessionID string, snap *domain.Snapshot) error {
	if err := check(snap); err != nil {
		return fmt.Errorf("refusing to save session %s: %w", sessionID, err)
	}
	return m.next.Save(ctx, sessionID, snap)
}

func (m *integrityMiddleware) Load(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	snap, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := check(snap); err != nil {
		return nil, fmt.Errorf("session %s is corrupt: %w", sessionID, err)
	}
	return snap, nil
}

func (m *integrityMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *integrityMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func check(snap *domain.Snapshot) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(snap.Document); err != nil {
		return &domain.DecodeError{Payload: snap.Document, Err: err}
	}
	prefix := snap.Prefix
	if prefix == "" {
		prefix = tracking.DefaultPrefix
	}
	n, err := tracking.Verify(doc, prefix)
	if err != nil {
		return err
	}
	if n != snap.Counter {
		return &domain.ConsistencyError{
			Step:   snap.Counter,
			Found:  n,
			Reason: fmt.Sprintf("counter is %d but the document holds %d steps", snap.Counter, n),
		}
	}
	return nil
}
