// Package script runs edit scripts: ordered lists of tracked changes and undo requests.
//
// Scripts arrive as YAML or JSON, e.g.
//
//	- op: breakpoint
//	  label: before-title
//	- op: set-text
//	  path: /form/title
//	  text: New title
//	- op: add-element
//	  path: /form
//	  position: 1
//	  xml: <field name="email"/>
//	- op: undo-breakpoint
//
// Positions count child elements only (0-based); markers, text and comments are skipped.
package script

import (
	"errors"
	"fmt"

	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Op names one script operation.
type Op string

const (
	OpAddElement      Op = "add-element"
	OpAddAttribute    Op = "add-attribute"
	OpRemoveElement   Op = "remove-element"
	OpRemoveAttribute Op = "remove-attribute"
	OpSetAttribute    Op = "set-attribute"
	OpSetText         Op = "set-text"
	OpSwap            Op = "swap"
	OpBreakpoint      Op = "breakpoint"
	OpSubselect       Op = "subselect"
	OpUndo            Op = "undo"
	OpUndoTo          Op = "undo-to"
	OpUndoBreakpoint  Op = "undo-breakpoint"
	OpUndoSubselect   Op = "undo-subselect"
)

// ErrInvalidScript is returned for scripts that cannot be decoded or validated.
var ErrInvalidScript = errors.New("invalid script")

// Step is one script operation. Which fields apply depends on Op.
type Step struct {
	Op Op `json:"op" yaml:"op" mapstructure:"op"`

	// Path locates the element the step works on (the parent for add-element and swap).
	// Empty means the root element.
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`

	// Position is the element index for add-element. Nil appends.
	Position *int `json:"position,omitempty" yaml:"position,omitempty" mapstructure:"position"`

	Key   string `json:"key,omitempty" yaml:"key,omitempty" mapstructure:"key"`
	Value string `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	Text  string `json:"text,omitempty" yaml:"text,omitempty" mapstructure:"text"`

	// Label names a breakpoint or describes a subselect.
	Label string `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`

	// XML is the element inserted by add-element.
	XML string `json:"xml,omitempty" yaml:"xml,omitempty" mapstructure:"xml"`

	// A and B are the element indexes exchanged by swap.
	A int `json:"a,omitempty" yaml:"a,omitempty" mapstructure:"a"`
	B int `json:"b,omitempty" yaml:"b,omitempty" mapstructure:"b"`

	// To is the target counter of undo-to.
	To int `json:"to,omitempty" yaml:"to,omitempty" mapstructure:"to"`
}

// Parse reads a YAML (or JSON) list of steps.
func Parse(data []byte) ([]Step, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return Decode(raw)
}

// Decode converts generic maps, as produced by YAML or JSON decoders, into steps.
// Unknown keys are rejected.
func Decode(raw []map[string]any) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for i, m := range raw {
		var s Step
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &s,
			ErrorUnused:      true,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(m); err != nil {
			return nil, fmt.Errorf("%w: step %d: %v", ErrInvalidScript, i+1, err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := s.Sanitize(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Validate checks that the fields required by Op are present.
func (s Step) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidScript, s.Op, field)
	}
	switch s.Op {
	case OpAddElement:
		if s.XML == "" {
			return missing("xml")
		}
	case OpAddAttribute, OpSetAttribute, OpRemoveAttribute:
		if s.Key == "" {
			return missing("key")
		}
	case OpSwap:
		if s.A == s.B {
			return fmt.Errorf("%w: swap requires two different positions", ErrInvalidScript)
		}
	case OpUndoTo:
		if s.To < 0 {
			return fmt.Errorf("%w: undo-to requires a non-negative target", ErrInvalidScript)
		}
	case OpRemoveElement, OpSetText, OpBreakpoint, OpSubselect,
		OpUndo, OpUndoBreakpoint, OpUndoSubselect:
	case "":
		return fmt.Errorf("%w: missing op", ErrInvalidScript)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidScript, s.Op)
	}
	return nil
}

// Outcome reports what one step did.
type Outcome struct {
	Op      Op                  `json:"op"`
	Counter int                 `json:"counter"`
	Undone  []domain.ChangeType `json:"undone,omitempty"`
	Label   string              `json:"label,omitempty"`
	Found   bool                `json:"found,omitempty"`
}
