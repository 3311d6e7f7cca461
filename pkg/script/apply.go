package script

import (
	"fmt"

	"github.com/aretw0/marginalia/pkg/codec"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/locator"
	"github.com/aretw0/marginalia/pkg/ports"
	"github.com/aretw0/marginalia/pkg/session"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
)

// Runner applies steps to sessions.
type Runner struct {
	loc ports.Locator
}

// NewRunner creates a Runner. A nil locator selects locator.New().
func NewRunner(loc ports.Locator) *Runner {
	if loc == nil {
		loc = locator.New()
	}
	return &Runner{loc: loc}
}

// Apply runs steps in order against sess and stops at the first error.
// Outcomes of the steps that completed are returned either way.
func Apply(sess *session.Session, steps []Step) ([]Outcome, error) {
	return NewRunner(nil).Apply(sess, steps)
}

// Apply runs steps in order against sess and stops at the first error.
func (r *Runner) Apply(sess *session.Session, steps []Step) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(steps))
	for i, s := range steps {
		out, err := r.apply(sess, s)
		if err != nil {
			return outcomes, fmt.Errorf("step %d (%s): %w", i+1, s.Op, err)
		}
		out.Op = s.Op
		out.Counter = sess.Tracker.Counter()
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (r *Runner) apply(sess *session.Session, s Step) (Outcome, error) {
	if err := s.Validate(); err != nil {
		return Outcome{}, err
	}
	t, doc := sess.Tracker, sess.Document

	switch s.Op {
	case OpUndo:
		rec, err := t.UndoLastChange(doc)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Undone: []domain.ChangeType{rec.Type}}, nil
	case OpUndoTo:
		var out Outcome
		for t.Counter() > s.To {
			rec, err := t.UndoLastChange(doc)
			if err != nil {
				return out, err
			}
			out.Undone = append(out.Undone, rec.Type)
		}
		return out, nil
	case OpUndoBreakpoint:
		label, ok, err := t.UndoLastBreakpoint(doc)
		return Outcome{Label: label, Found: ok}, err
	case OpUndoSubselect:
		label, ok, err := t.UndoLastSubselect(doc)
		return Outcome{Label: label, Found: ok}, err
	}

	el, err := r.target(doc, s.Path)
	if err != nil {
		return Outcome{}, err
	}

	switch s.Op {
	case OpAddElement:
		child, err := codec.DecodeElement(s.XML)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidChange, err)
		}
		pos := len(el.Child)
		if s.Position != nil {
			if pos, err = rawIndex(el, *s.Position, true); err != nil {
				return Outcome{}, err
			}
		}
		err = tracking.AddElement(t, el, pos, child)
	case OpAddAttribute:
		err = tracking.AddAttribute(t, el, s.Key, s.Value)
	case OpRemoveElement:
		err = tracking.RemoveNode(t, el)
	case OpRemoveAttribute:
		err = tracking.RemoveAttribute(t, el, s.Key)
	case OpSetAttribute:
		err = tracking.SetAttributeValue(t, el, s.Key, s.Value)
	case OpSetText:
		err = tracking.SetElementText(t, el, s.Text)
	case OpSwap:
		var a, b int
		if a, err = rawIndex(el, s.A, false); err != nil {
			return Outcome{}, err
		}
		if b, err = rawIndex(el, s.B, false); err != nil {
			return Outcome{}, err
		}
		err = tracking.SwapElements(t, el, a, b)
	case OpBreakpoint:
		err = tracking.Breakpoint(t, el, s.Label)
	case OpSubselect:
		label := s.Label
		if label == "" {
			label = r.loc.Path(el)
		}
		err = tracking.SubselectStart(t, el, label)
	}
	return Outcome{}, err
}

func (r *Runner) target(doc *etree.Document, path string) (*etree.Element, error) {
	if path == "" {
		if root := doc.Root(); root != nil {
			return root, nil
		}
		return nil, fmt.Errorf("%w: document has no root element", domain.ErrInvalidChange)
	}
	el, err := r.loc.Resolve(doc, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidChange, err)
	}
	return el, nil
}

// rawIndex maps the n-th child element of parent to its index in parent.Child.
// With end set, n may equal the element count, meaning after the last child element.
func rawIndex(parent *etree.Element, n int, end bool) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative element position %d", domain.ErrInvalidChange, n)
	}
	seen := 0
	last := -1
	for i, tok := range parent.Child {
		if _, ok := tok.(*etree.Element); !ok {
			continue
		}
		if seen == n {
			return i, nil
		}
		seen++
		last = i
	}
	if end && n == seen {
		return last + 1, nil
	}
	return 0, fmt.Errorf("%w: element position %d out of range [0,%d)", domain.ErrInvalidChange, n, seen)
}
