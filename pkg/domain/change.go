package domain

import (
	"github.com/beevik/etree"
)

// ChangeType identifies a change kind. It is embedded verbatim in marker targets.
type ChangeType string

const (
	ChangeAddedElement      ChangeType = "added-element"
	ChangeAddedAttribute    ChangeType = "added-attribute"
	ChangeRemovedElement    ChangeType = "removed-element"
	ChangeRemovedAttribute  ChangeType = "removed-attribute"
	ChangeSetAttributeValue ChangeType = "set-attribute-value"
	ChangeSetElementText    ChangeType = "set-element-text"
	ChangeSwappedElements   ChangeType = "swapped-elements"
	ChangeBreakpoint        ChangeType = "breakpoint"
	ChangeSubselectStart    ChangeType = "subselect-start"
)

// ChangeTypes lists every known change kind in declaration order.
var ChangeTypes = []ChangeType{
	ChangeAddedElement,
	ChangeAddedAttribute,
	ChangeRemovedElement,
	ChangeRemovedAttribute,
	ChangeSetAttributeValue,
	ChangeSetElementText,
	ChangeSwappedElements,
	ChangeBreakpoint,
	ChangeSubselectStart,
}

// Known reports whether t is one of the built-in change kinds.
func (t ChangeType) Known() bool {
	for _, k := range ChangeTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ChangeRecord is one entry of the undo log.
//
// Text depends on Type: a serialized element or attribute, a "posA posB" pair
// for swaps, or a free-form label for breakpoints and subselects.
// Position is the child index in Context where the marker lives.
type ChangeRecord struct {
	Type     ChangeType
	Text     string
	Position int
	Context  *etree.Element
}
