// Package codec serializes elements and attributes into single text payloads and back.
//
// Payloads are plain XML as written by etree, so a decoded fragment re-encodes to the
// same bytes. Attributes are encoded through a throwaway wrapper element holding only
// that attribute, which keeps quoting and prefix handling identical to the document writer.
package codec

import (
	"fmt"
	"strings"

	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/beevik/etree"
)

// wrapperTag names the synthetic element used to carry a lone attribute.
const wrapperTag = "w"

// EncodeElement serializes a detached copy of el. The element itself is not modified.
func EncodeElement(el *etree.Element) (string, error) {
	if el == nil {
		return "", fmt.Errorf("%w: nil element", domain.ErrInvalidChange)
	}
	doc := etree.NewDocument()
	Canonical(doc)
	doc.SetRoot(el.Copy())
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to encode element <%s>: %w", el.FullTag(), err)
	}
	return s, nil
}

// Canonical switches doc to character references for carriage returns in text and for
// carriage returns, tabs and newlines in attribute values. Written raw, the parser would
// normalize them away.
func Canonical(doc *etree.Document) {
	doc.WriteSettings.CanonicalText = true
	doc.WriteSettings.CanonicalAttrVal = true
}

// DecodeElement parses a payload produced by EncodeElement.
// The returned element has no parent.
func DecodeElement(payload string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(payload); err != nil {
		return nil, &domain.DecodeError{Payload: payload, Err: err}
	}
	root := doc.Root()
	if root == nil || len(doc.Child) != 1 {
		return nil, &domain.DecodeError{Payload: payload, Err: fmt.Errorf("expected a single element")}
	}
	return root.Copy(), nil
}

// EncodeAttr serializes a single attribute as it appears inside a start tag (key="value").
func EncodeAttr(attr etree.Attr) (string, error) {
	if attr.Key == "" {
		return "", fmt.Errorf("%w: attribute without a name", domain.ErrInvalidChange)
	}
	w := etree.NewElement(wrapperTag)
	w.CreateAttr(attr.FullKey(), attr.Value)

	s, err := EncodeElement(w)
	if err != nil {
		return "", err
	}

	open := "<" + wrapperTag + " "
	body, ok := strings.CutPrefix(s, open)
	if !ok {
		return "", fmt.Errorf("unexpected wrapper serialization %q", s)
	}
	switch {
	case strings.HasSuffix(body, "/>"):
		body = strings.TrimSuffix(body, "/>")
	case strings.HasSuffix(body, "></"+wrapperTag+">"):
		body = strings.TrimSuffix(body, "></"+wrapperTag+">")
	default:
		return "", fmt.Errorf("unexpected wrapper serialization %q", s)
	}
	return strings.TrimSpace(body), nil
}

// DecodeAttr parses a payload produced by EncodeAttr.
func DecodeAttr(payload string) (etree.Attr, error) {
	if strings.TrimSpace(payload) == "" {
		return etree.Attr{}, &domain.DecodeError{Payload: payload, Err: fmt.Errorf("empty attribute")}
	}
	w, err := DecodeElement("<" + wrapperTag + " " + payload + "/>")
	if err != nil {
		return etree.Attr{}, &domain.DecodeError{Payload: payload, Err: err}
	}
	if len(w.Attr) != 1 {
		return etree.Attr{}, &domain.DecodeError{
			Payload: payload,
			Err:     fmt.Errorf("expected exactly one attribute, got %d", len(w.Attr)),
		}
	}
	a := w.Attr[0]
	return etree.Attr{Space: a.Space, Key: a.Key, Value: a.Value}, nil
}
