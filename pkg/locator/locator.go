// Package locator builds and resolves element locators such as /form/field[2].
//
// A locator is an absolute etree path. Each step names the element's full tag and,
// when siblings share that tag, its 1-based position among them.
package locator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// ErrNotFound is returned when a locator matches no element.
var ErrNotFound = errors.New("no element matches locator")

// Locator implements ports.Locator over etree paths.
type Locator struct{}

// New returns a Locator.
func New() *Locator {
	return &Locator{}
}

// Path returns the absolute locator of el.
func (Locator) Path(el *etree.Element) string {
	if el == nil {
		return ""
	}
	var steps []string
	for cur := el; cur != nil && cur.Tag != ""; cur = cur.Parent() {
		steps = append(steps, step(cur))
	}
	var b strings.Builder
	for i := len(steps) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(steps[i])
	}
	return b.String()
}

// Resolve finds the first element of doc matching path.
func (Locator) Resolve(doc *etree.Document, path string) (*etree.Element, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: %s (no document)", ErrNotFound, path)
	}
	p, err := etree.CompilePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid locator %q: %w", path, err)
	}
	el := doc.FindElementPath(p)
	if el == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return el, nil
}

func step(el *etree.Element) string {
	tag := el.FullTag()
	parent := el.Parent()
	if parent == nil {
		return tag
	}
	pos, count := 0, 0
	for _, c := range parent.ChildElements() {
		if c.FullTag() != tag {
			continue
		}
		count++
		if c == el {
			pos = count
		}
	}
	if count <= 1 {
		return tag
	}
	return tag + "[" + strconv.Itoa(pos) + "]"
}
