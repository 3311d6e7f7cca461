package script

import "fmt"

// Builder assembles a script in code instead of YAML.
//
//	steps, err := script.NewBuilder().
//		Breakpoint("rename").
//		SetText("/form/title", "New").
//		Build()
type Builder struct {
	steps []Step
}

// NewBuilder creates an empty script builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) add(s Step) *Builder {
	b.steps = append(b.steps, s)
	return b
}

// AddElement inserts xml under path at the given element index. A negative position appends.
func (b *Builder) AddElement(path, xml string, position int) *Builder {
	s := Step{Op: OpAddElement, Path: path, XML: xml}
	if position >= 0 {
		s.Position = &position
	}
	return b.add(s)
}

func (b *Builder) RemoveElement(path string) *Builder {
	return b.add(Step{Op: OpRemoveElement, Path: path})
}

func (b *Builder) AddAttribute(path, key, value string) *Builder {
	return b.add(Step{Op: OpAddAttribute, Path: path, Key: key, Value: value})
}

func (b *Builder) SetAttribute(path, key, value string) *Builder {
	return b.add(Step{Op: OpSetAttribute, Path: path, Key: key, Value: value})
}

func (b *Builder) RemoveAttribute(path, key string) *Builder {
	return b.add(Step{Op: OpRemoveAttribute, Path: path, Key: key})
}

func (b *Builder) SetText(path, text string) *Builder {
	return b.add(Step{Op: OpSetText, Path: path, Text: text})
}

// Swap exchanges the child elements at indexes i and j of path.
func (b *Builder) Swap(path string, i, j int) *Builder {
	return b.add(Step{Op: OpSwap, Path: path, A: i, B: j})
}

func (b *Builder) Breakpoint(label string) *Builder {
	return b.add(Step{Op: OpBreakpoint, Label: label})
}

func (b *Builder) Subselect(path, description string) *Builder {
	return b.add(Step{Op: OpSubselect, Path: path, Label: description})
}

func (b *Builder) Undo() *Builder {
	return b.add(Step{Op: OpUndo})
}

func (b *Builder) UndoTo(step int) *Builder {
	return b.add(Step{Op: OpUndoTo, To: step})
}

func (b *Builder) UndoBreakpoint() *Builder {
	return b.add(Step{Op: OpUndoBreakpoint})
}

func (b *Builder) UndoSubselect() *Builder {
	return b.add(Step{Op: OpUndoSubselect})
}

// Build validates and sanitizes the collected steps.
func (b *Builder) Build() ([]Step, error) {
	steps := make([]Step, len(b.steps))
	for i, s := range b.steps {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := s.Sanitize(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps[i] = s
	}
	return steps, nil
}
