package tracking

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aretw0/marginalia/internal/logging"
	"github.com/aretw0/marginalia/pkg/codec"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/beevik/etree"
)

// DefaultPrefix is the reserved marker target prefix.
const DefaultPrefix = "mg"

// Tracker numbers tracked changes and unwinds them.
// It is not safe for concurrent use; one tracker belongs to one edit session.
type Tracker struct {
	counter int
	prefix  string
	logger  *slog.Logger
	hooks   domain.LifecycleHooks
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPrefix sets the reserved marker prefix. It must satisfy ValidatePrefix.
func WithPrefix(prefix string) Option {
	return func(t *Tracker) {
		t.prefix = prefix
	}
}

// WithLogger configures a logger for the Tracker.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(t *Tracker) {
		t.hooks = hooks
	}
}

// WithCounter starts the tracker at a known step, e.g. the counter of a loaded snapshot.
func WithCounter(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.counter = n
		}
	}
}

// New creates a Tracker in the clean state (counter 0).
// It panics if the configured prefix is invalid.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		prefix: DefaultPrefix,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := ValidatePrefix(t.prefix); err != nil {
		panic(err)
	}
	return t
}

// Counter returns the number of tracked changes that have not been undone.
func (t *Tracker) Counter() int {
	return t.counter
}

// Prefix returns the reserved marker prefix.
func (t *Tracker) Prefix() string {
	return t.prefix
}

// Clone copies the counter and configuration. The clone shares no mutable state with t.
func (t *Tracker) Clone() *Tracker {
	c := *t
	return &c
}

// Track stores rec as the next step: a marker is inserted into rec.Context at rec.Position.
func (t *Tracker) Track(rec domain.ChangeRecord) error {
	if !rec.Type.Known() {
		return fmt.Errorf("%w: unknown change type %q", domain.ErrInvalidChange, rec.Type)
	}
	if rec.Context == nil {
		return fmt.Errorf("%w: %s change has no context", domain.ErrInvalidChange, rec.Type)
	}
	if rec.Position < 0 || rec.Position > len(rec.Context.Child) {
		return fmt.Errorf("%w: marker position %d out of range [0,%d]", domain.ErrInvalidChange, rec.Position, len(rec.Context.Child))
	}

	t.counter++
	marker := etree.NewProcInst(t.target(t.counter, rec.Type), codec.EscapeData(rec.Text))
	rec.Context.InsertChildAt(rec.Position, marker)

	t.logger.Debug("change tracked", "step", t.counter, "type", rec.Type, "position", rec.Position)
	if t.hooks.OnTrack != nil {
		t.hooks.OnTrack(t.event(domain.EventTracked, t.counter, rec))
	}
	return nil
}

// UndoLastChange removes the marker of the current step and applies its inverse.
// The returned record describes the undone change; its Context is the element that held the marker.
func (t *Tracker) UndoLastChange(doc *etree.Document) (domain.ChangeRecord, error) {
	step := t.counter
	m, err := t.find(doc, step)
	if err != nil {
		return domain.ChangeRecord{}, err
	}
	rec := m.Record()
	if !rec.Type.Known() {
		return rec, &domain.UnsupportedTypeError{Type: rec.Type}
	}

	m.Parent.RemoveChildAt(m.Index)
	t.counter--

	if err := undo(rec); err != nil {
		t.logger.Error("undo failed", "step", step, "type", rec.Type, "err", err)
		return rec, fmt.Errorf("undo step %d (%s): %w", step, rec.Type, err)
	}

	t.logger.Debug("change undone", "step", step, "type", rec.Type)
	if t.hooks.OnUndo != nil {
		t.hooks.OnUndo(t.event(domain.EventUndone, step, rec))
	}
	return rec, nil
}

// UndoChanges undoes changes until the counter equals toStep.
// It is a no-op when the counter is already at or below toStep.
func (t *Tracker) UndoChanges(doc *etree.Document, toStep int) error {
	if toStep < 0 {
		toStep = 0
	}
	for t.counter > toStep {
		if _, err := t.UndoLastChange(doc); err != nil {
			return err
		}
	}
	return nil
}

// UndoLastBreakpoint undoes changes up to and including the most recent breakpoint.
// ok is false when the log was fully unwound without meeting a breakpoint.
func (t *Tracker) UndoLastBreakpoint(doc *etree.Document) (label string, ok bool, err error) {
	return t.undoThrough(doc, domain.ChangeBreakpoint)
}

// UndoLastSubselect undoes changes up to and including the most recent subselect-start,
// returning its descriptor.
func (t *Tracker) UndoLastSubselect(doc *etree.Document) (descriptor string, ok bool, err error) {
	return t.undoThrough(doc, domain.ChangeSubselectStart)
}

func (t *Tracker) undoThrough(doc *etree.Document, stop domain.ChangeType) (string, bool, error) {
	for t.counter > 0 {
		rec, err := t.UndoLastChange(doc)
		if err != nil {
			return "", false, err
		}
		if rec.Type == stop {
			return rec.Text, true, nil
		}
	}
	return "", false, nil
}

// FindLastChange returns the record of the current step without modifying the document.
func (t *Tracker) FindLastChange(doc *etree.Document) (domain.ChangeRecord, error) {
	m, err := t.find(doc, t.counter)
	if err != nil {
		return domain.ChangeRecord{}, err
	}
	return m.Record(), nil
}

// RemoveChangeTracking returns a deep copy of doc without any marker. doc is not modified.
func (t *Tracker) RemoveChangeTracking(doc *etree.Document) *etree.Document {
	return Strip(doc, t.prefix)
}

func (t *Tracker) find(doc *etree.Document, step int) (Marker, error) {
	if doc == nil {
		return Marker{}, &domain.ConsistencyError{Step: step, Reason: "no document"}
	}
	want := t.prefix + strconv.Itoa(step) + "-"
	var found []Marker
	walk(&doc.Element, t.prefix, func(m Marker) {
		if len(m.Target) >= len(want) && m.Target[:len(want)] == want {
			found = append(found, m)
		}
	})
	if len(found) != 1 {
		return Marker{}, &domain.ConsistencyError{Step: step, Found: len(found)}
	}
	return found[0], nil
}

func (t *Tracker) target(step int, typ domain.ChangeType) string {
	return t.prefix + strconv.Itoa(step) + "-" + string(typ)
}

func (t *Tracker) event(kind domain.EventType, step int, rec domain.ChangeRecord) *domain.ChangeEvent {
	return &domain.ChangeEvent{
		Timestamp: time.Now(),
		Type:      kind,
		Step:      step,
		Change:    rec.Type,
		Text:      rec.Text,
	}
}
