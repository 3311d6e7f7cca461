package tracking

import (
	"fmt"
	"strconv"

	"github.com/aretw0/marginalia/pkg/codec"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/beevik/etree"
)

// AddElement inserts child into parent at pos and tracks the insertion.
// child must not be attached to another element.
func AddElement(t *Tracker, parent *etree.Element, pos int, child *etree.Element) error {
	if parent == nil || child == nil {
		return fmt.Errorf("%w: add element: nil parent or child", domain.ErrInvalidChange)
	}
	if child.Parent() != nil {
		return fmt.Errorf("%w: add element: <%s> is already attached", domain.ErrInvalidChange, child.FullTag())
	}
	if pos < 0 || pos > len(parent.Child) {
		return fmt.Errorf("%w: add element: position %d out of range [0,%d]", domain.ErrInvalidChange, pos, len(parent.Child))
	}

	parent.InsertChildAt(pos, child)
	return t.Track(domain.ChangeRecord{
		Type:     domain.ChangeAddedElement,
		Position: pos,
		Context:  parent,
	})
}

// AddAttribute creates a new attribute on el and tracks it.
// Use SetAttributeValue for attributes that already exist.
func AddAttribute(t *Tracker, el *etree.Element, key, value string) error {
	if el == nil || key == "" {
		return fmt.Errorf("%w: add attribute: nil element or empty key", domain.ErrInvalidChange)
	}
	if el.SelectAttr(key) != nil {
		return fmt.Errorf("%w: add attribute: %q already exists on <%s>", domain.ErrInvalidChange, key, el.FullTag())
	}

	attr := el.CreateAttr(key, value)
	payload, err := codec.EncodeAttr(*attr)
	if err != nil {
		el.RemoveAttr(key)
		return err
	}
	return t.Track(domain.ChangeRecord{
		Type:    domain.ChangeAddedAttribute,
		Text:    payload,
		Context: el,
	})
}

// RemoveElement detaches the element at pos from parent and tracks the removal.
// The removed element is returned.
func RemoveElement(t *Tracker, parent *etree.Element, pos int) (*etree.Element, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: remove element: nil parent", domain.ErrInvalidChange)
	}
	if pos < 0 || pos >= len(parent.Child) {
		return nil, fmt.Errorf("%w: remove element: position %d out of range [0,%d)", domain.ErrInvalidChange, pos, len(parent.Child))
	}
	el, ok := parent.Child[pos].(*etree.Element)
	if !ok {
		return nil, fmt.Errorf("%w: remove element: child %d of <%s> is not an element", domain.ErrInvalidChange, pos, parent.FullTag())
	}

	payload, err := codec.EncodeElement(el)
	if err != nil {
		return nil, err
	}
	parent.RemoveChildAt(pos)
	return el, t.Track(domain.ChangeRecord{
		Type:     domain.ChangeRemovedElement,
		Text:     payload,
		Position: pos,
		Context:  parent,
	})
}

// RemoveNode removes an attached element by reference. See RemoveElement.
func RemoveNode(t *Tracker, el *etree.Element) error {
	if el == nil || el.Parent() == nil {
		return fmt.Errorf("%w: remove node: element is not attached", domain.ErrInvalidChange)
	}
	parent := el.Parent()
	pos := indexOf(parent, el)
	if pos < 0 {
		return fmt.Errorf("%w: remove node: <%s> not found in its parent", domain.ErrInvalidChange, el.FullTag())
	}
	_, err := RemoveElement(t, parent, pos)
	return err
}

// RemoveAttribute removes the attribute key from el and tracks the removal.
func RemoveAttribute(t *Tracker, el *etree.Element, key string) error {
	if el == nil {
		return fmt.Errorf("%w: remove attribute: nil element", domain.ErrInvalidChange)
	}
	attr := el.SelectAttr(key)
	if attr == nil {
		return fmt.Errorf("%w: remove attribute: %q not found", domain.ErrInvalidChange, key)
	}

	index := attrIndex(el, attr)
	payload, err := codec.EncodeAttr(*attr)
	if err != nil {
		return err
	}
	el.RemoveAttr(key)
	return t.Track(domain.ChangeRecord{
		Type:    domain.ChangeRemovedAttribute,
		Text:    strconv.Itoa(index) + " " + payload,
		Context: el,
	})
}

func attrIndex(el *etree.Element, attr *etree.Attr) int {
	for i := range el.Attr {
		if &el.Attr[i] == attr {
			return i
		}
	}
	return len(el.Attr)
}

// SetAttributeValue overwrites the value of an existing attribute and tracks the old one.
func SetAttributeValue(t *Tracker, el *etree.Element, key, value string) error {
	if el == nil {
		return fmt.Errorf("%w: set attribute: nil element", domain.ErrInvalidChange)
	}
	attr := el.SelectAttr(key)
	if attr == nil {
		return fmt.Errorf("%w: set attribute: %q not found", domain.ErrInvalidChange, key)
	}

	payload, err := codec.EncodeAttr(*attr)
	if err != nil {
		return err
	}
	attr.Value = value
	return t.Track(domain.ChangeRecord{
		Type:    domain.ChangeSetAttributeValue,
		Text:    payload,
		Context: el,
	})
}

// SetElementText replaces the whole content of el with text. Attributes are untouched.
func SetElementText(t *Tracker, el *etree.Element, text string) error {
	if el == nil {
		return fmt.Errorf("%w: set text: nil element", domain.ErrInvalidChange)
	}

	old := el.Copy()
	old.Attr = nil
	payload, err := codec.EncodeElement(old)
	if err != nil {
		return err
	}

	clearChildren(el)
	if text != "" {
		el.SetText(text)
	}
	return t.Track(domain.ChangeRecord{
		Type:    domain.ChangeSetElementText,
		Text:    payload,
		Context: el,
	})
}

// SwapElements exchanges the elements at positions a and b of parent.
func SwapElements(t *Tracker, parent *etree.Element, a, b int) error {
	if parent == nil {
		return fmt.Errorf("%w: swap: nil parent", domain.ErrInvalidChange)
	}
	if a == b {
		return fmt.Errorf("%w: swap: positions must differ", domain.ErrInvalidChange)
	}
	if a > b {
		a, b = b, a
	}
	if a < 0 || b >= len(parent.Child) {
		return fmt.Errorf("%w: swap: positions %d,%d out of range [0,%d)", domain.ErrInvalidChange, a, b, len(parent.Child))
	}
	for _, pos := range []int{a, b} {
		if _, ok := parent.Child[pos].(*etree.Element); !ok {
			return fmt.Errorf("%w: swap: child %d of <%s> is not an element", domain.ErrInvalidChange, pos, parent.FullTag())
		}
	}

	swap(parent, a, b)
	return t.Track(domain.ChangeRecord{
		Type:     domain.ChangeSwappedElements,
		Text:     strconv.Itoa(a) + " " + strconv.Itoa(b),
		Position: b,
		Context:  parent,
	})
}

// Breakpoint tracks a named rollback target. The document content is not changed.
func Breakpoint(t *Tracker, ctx *etree.Element, label string) error {
	return t.Track(domain.ChangeRecord{
		Type:    domain.ChangeBreakpoint,
		Text:    label,
		Context: ctx,
	})
}

// SubselectStart tracks the start of a nested sub-edit scope described by descriptor.
func SubselectStart(t *Tracker, ctx *etree.Element, descriptor string) error {
	return t.Track(domain.ChangeRecord{
		Type:    domain.ChangeSubselectStart,
		Text:    descriptor,
		Context: ctx,
	})
}

// swap moves the token at b to a, then the token displaced from a to b. Requires a < b.
// Applying it twice with the same positions restores the original order.
func swap(parent *etree.Element, a, b int) {
	tb := parent.RemoveChildAt(b)
	parent.InsertChildAt(a, tb)
	ta := parent.RemoveChildAt(a + 1)
	parent.InsertChildAt(b, ta)
}

func clearChildren(el *etree.Element) {
	for i := len(el.Child) - 1; i >= 0; i-- {
		el.RemoveChildAt(i)
	}
}

func indexOf(parent *etree.Element, tok etree.Token) int {
	for i, c := range parent.Child {
		if c == tok {
			return i
		}
	}
	return -1
}
