package tracking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/marginalia/pkg/codec"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/beevik/etree"
)

// undo applies the inverse of rec. The marker must already be detached.
func undo(rec domain.ChangeRecord) error {
	if rec.Context == nil {
		return &domain.ConsistencyError{Reason: "marker has no parent"}
	}
	switch rec.Type {
	case domain.ChangeAddedElement:
		return undoAddedElement(rec)
	case domain.ChangeAddedAttribute:
		return undoAddedAttribute(rec)
	case domain.ChangeRemovedElement:
		return undoRemovedElement(rec)
	case domain.ChangeRemovedAttribute:
		return undoRemovedAttribute(rec)
	case domain.ChangeSetAttributeValue:
		return undoSetAttributeValue(rec)
	case domain.ChangeSetElementText:
		return undoSetElementText(rec)
	case domain.ChangeSwappedElements:
		return undoSwappedElements(rec)
	case domain.ChangeBreakpoint, domain.ChangeSubselectStart:
		return nil
	default:
		return &domain.UnsupportedTypeError{Type: rec.Type}
	}
}

func undoAddedElement(rec domain.ChangeRecord) error {
	if rec.Position >= len(rec.Context.Child) {
		return &domain.ConsistencyError{Reason: fmt.Sprintf("no child at position %d to detach", rec.Position)}
	}
	if _, ok := rec.Context.Child[rec.Position].(*etree.Element); !ok {
		return &domain.ConsistencyError{Reason: fmt.Sprintf("child at position %d is not an element", rec.Position)}
	}
	rec.Context.RemoveChildAt(rec.Position)
	return nil
}

func undoAddedAttribute(rec domain.ChangeRecord) error {
	attr, err := codec.DecodeAttr(rec.Text)
	if err != nil {
		return err
	}
	if rec.Context.RemoveAttr(attr.FullKey()) == nil {
		return &domain.ConsistencyError{Reason: fmt.Sprintf("attribute %q to remove is missing", attr.FullKey())}
	}
	return nil
}

func undoRemovedElement(rec domain.ChangeRecord) error {
	el, err := codec.DecodeElement(rec.Text)
	if err != nil {
		return err
	}
	if rec.Position > len(rec.Context.Child) {
		return &domain.ConsistencyError{Reason: fmt.Sprintf("cannot re-insert at position %d", rec.Position)}
	}
	rec.Context.InsertChildAt(rec.Position, el)
	return nil
}

// undoRemovedAttribute re-inserts the attribute at the index it was removed from.
// The payload is "index key=value"; a payload without an index appends.
func undoRemovedAttribute(rec domain.ChangeRecord) error {
	index := -1
	payload := rec.Text
	if head, rest, ok := strings.Cut(payload, " "); ok {
		if n, err := strconv.Atoi(head); err == nil {
			index, payload = n, rest
		}
	}
	attr, err := codec.DecodeAttr(payload)
	if err != nil {
		return err
	}
	// CreateAttr replaces an existing attribute in place and appends a new one.
	exists := rec.Context.SelectAttr(attr.FullKey()) != nil
	rec.Context.CreateAttr(attr.FullKey(), attr.Value)
	if exists || index < 0 || index >= len(rec.Context.Attr)-1 {
		return nil
	}
	last := len(rec.Context.Attr) - 1
	added := rec.Context.Attr[last]
	copy(rec.Context.Attr[index+1:], rec.Context.Attr[index:last])
	rec.Context.Attr[index] = added
	return nil
}

// undoSetAttributeValue puts the old attribute back. CreateAttr replaces an existing
// attribute in place, which keeps attribute order stable.
func undoSetAttributeValue(rec domain.ChangeRecord) error {
	attr, err := codec.DecodeAttr(rec.Text)
	if err != nil {
		return err
	}
	rec.Context.CreateAttr(attr.FullKey(), attr.Value)
	return nil
}

func undoSetElementText(rec domain.ChangeRecord) error {
	old, err := codec.DecodeElement(rec.Text)
	if err != nil {
		return err
	}
	clearChildren(rec.Context)
	children := make([]etree.Token, len(old.Child))
	copy(children, old.Child)
	for _, tok := range children {
		rec.Context.AddChild(tok)
	}
	return nil
}

func undoSwappedElements(rec domain.ChangeRecord) error {
	a, b, err := parseSwap(rec.Text)
	if err != nil {
		return &domain.DecodeError{Payload: rec.Text, Err: err}
	}
	if a < 0 || a >= b || b >= len(rec.Context.Child) {
		return &domain.ConsistencyError{Reason: fmt.Sprintf("swap positions %d,%d out of range", a, b)}
	}
	swap(rec.Context, a, b)
	return nil
}

func parseSwap(text string) (int, int, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two positions, got %q", text)
	}
	a, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
