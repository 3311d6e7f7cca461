package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/locator"
	"github.com/aretw0/marginalia/pkg/tracking"
)

// GenerateMermaid produces a Mermaid flowchart of an undo log, oldest step first.
// It applies semantic styling:
// - Breakpoint: ((Circle))
// - Subselect: [[Subroutine]]
// - Attribute changes: [/Parallelogram/]
// - Default: [Rectangle]
// Steps that an undo-to-breakpoint would revert are marked "pending", the last one "current".
func GenerateMermaid(markers []tracking.Marker) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	if len(markers) == 0 {
		return sb.String()
	}

	loc := locator.New()
	for i, m := range markers {
		id := nodeID(m.Step)

		opener, closer := "[", "]"
		switch m.Type {
		case domain.ChangeBreakpoint:
			opener, closer = "((", "))"
		case domain.ChangeSubselectStart:
			opener, closer = "[[", "]]"
		case domain.ChangeAddedAttribute, domain.ChangeRemovedAttribute, domain.ChangeSetAttributeValue:
			opener, closer = "[/", "/]"
		}

		label := fmt.Sprintf("%d %s", m.Step, m.Type)
		if m.Type == domain.ChangeBreakpoint && m.Data != "" {
			label += " <br/> " + m.Data
		} else if path := loc.Path(m.Parent); path != "" {
			label += " <br/> " + path
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", id, opener, sanitizeLabel(label), closer))

		if i > 0 {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID(markers[i-1].Step), id))
		}
	}

	sb.WriteString("\n    %% Overlay Styles\n")
	// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
	sb.WriteString("    classDef pending fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

	last := len(markers) - 1
	for i := last; i >= 0; i-- {
		if i != last {
			sb.WriteString(fmt.Sprintf("    class %s pending;\n", nodeID(markers[i].Step)))
		}
		if markers[i].Type == domain.ChangeBreakpoint {
			break
		}
	}
	sb.WriteString(fmt.Sprintf("    class %s current;\n", nodeID(markers[last].Step)))

	return sb.String()
}

func nodeID(step int) string {
	return fmt.Sprintf("step%d", step)
}

func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
