package tracking

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/marginalia/pkg/codec"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/beevik/etree"
)

// Marker is a tracked change as found in a document.
type Marker struct {
	Step   int
	Type   domain.ChangeType
	Target string
	Data   string // unescaped payload
	Parent *etree.Element
	Index  int
}

// Record rebuilds the change record carried by the marker.
func (m Marker) Record() domain.ChangeRecord {
	return domain.ChangeRecord{
		Type:     m.Type,
		Text:     m.Data,
		Position: m.Index,
		Context:  m.Parent,
	}
}

// ValidatePrefix checks that prefix can start a processing-instruction target and that
// the step number following it can be parsed back unambiguously.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("marker prefix must not be empty")
	}
	if strings.HasPrefix(strings.ToLower(prefix), "xml") {
		return fmt.Errorf("marker prefix %q is reserved by XML", prefix)
	}
	for i, r := range prefix {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || r == '.'):
		default:
			return fmt.Errorf("marker prefix %q: invalid character %q", prefix, r)
		}
	}
	return nil
}

// Markers lists the live markers of doc ordered by step.
// Markers captured inside payloads of removed elements or replaced text are not included.
func Markers(doc *etree.Document, prefix string) []Marker {
	var out []Marker
	if doc == nil {
		return out
	}
	walk(&doc.Element, prefix, func(m Marker) {
		out = append(out, m)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

// Strip returns a deep copy of doc with every processing instruction whose target
// starts with prefix removed.
func Strip(doc *etree.Document, prefix string) *etree.Document {
	if doc == nil {
		return nil
	}
	clean := doc.Copy()
	strip(&clean.Element, prefix)
	return clean
}

func strip(el *etree.Element, prefix string) {
	for i := len(el.Child) - 1; i >= 0; i-- {
		switch tok := el.Child[i].(type) {
		case *etree.ProcInst:
			if strings.HasPrefix(tok.Target, prefix) {
				el.RemoveChildAt(i)
			}
		case *etree.Element:
			strip(tok, prefix)
		}
	}
}

// Verify checks the step invariant: the markers of doc, including those captured in
// payloads of removed elements and replaced text, carry steps 1..n exactly once each.
// It returns n.
func Verify(doc *etree.Document, prefix string) (int, error) {
	if doc == nil {
		return 0, &domain.ConsistencyError{Reason: "no document"}
	}
	seen := make(map[int]int)
	if err := collectSteps(&doc.Element, prefix, seen); err != nil {
		return 0, err
	}
	n := 0
	for step := range seen {
		if step > n {
			n = step
		}
	}
	for step := 1; step <= n; step++ {
		if seen[step] != 1 {
			return 0, &domain.ConsistencyError{Step: step, Found: seen[step]}
		}
	}
	return n, nil
}

// Recover rebuilds a tracker for a document whose counter was not carried along.
// The counter is re-derived from the highest step present.
func Recover(doc *etree.Document, opts ...Option) (*Tracker, error) {
	t := New(opts...)
	n, err := Verify(doc, t.prefix)
	if err != nil {
		return nil, err
	}
	t.counter = n
	return t, nil
}

func collectSteps(el *etree.Element, prefix string, seen map[int]int) error {
	var err error
	walk(el, prefix, func(m Marker) {
		if err != nil {
			return
		}
		if m.Step == 0 {
			err = &domain.ConsistencyError{Reason: fmt.Sprintf("malformed marker target %q", m.Target)}
			return
		}
		seen[m.Step]++

		switch m.Type {
		case domain.ChangeRemovedElement, domain.ChangeSetElementText:
			captured, decErr := codec.DecodeElement(m.Data)
			if decErr != nil {
				err = decErr
				return
			}
			holder := etree.NewElement("holder")
			holder.AddChild(captured)
			err = collectSteps(holder, prefix, seen)
		}
	})
	return err
}

// walk calls fn for every processing instruction under el whose target starts with prefix,
// in document order.
func walk(el *etree.Element, prefix string, fn func(Marker)) {
	for i, tok := range el.Child {
		switch tok := tok.(type) {
		case *etree.ProcInst:
			if !strings.HasPrefix(tok.Target, prefix) {
				continue
			}
			step, typ := parseTarget(prefix, tok.Target)
			fn(Marker{
				Step:   step,
				Type:   typ,
				Target: tok.Target,
				Data:   codec.UnescapeData(tok.Inst),
				Parent: el,
				Index:  i,
			})
		case *etree.Element:
			walk(tok, prefix, fn)
		}
	}
}

// parseTarget splits "{prefix}{step}-{type}". Step is 0 when the target is malformed.
func parseTarget(prefix, target string) (int, domain.ChangeType) {
	rest := strings.TrimPrefix(target, prefix)
	digits, typ, ok := strings.Cut(rest, "-")
	if !ok || digits == "" || typ == "" {
		return 0, ""
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, ""
		}
	}
	step, err := strconv.Atoi(digits)
	if err != nil || step <= 0 {
		return 0, ""
	}
	return step, domain.ChangeType(typ)
}
