package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/marginalia/pkg/locator"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// LogMarkdown renders an undo log as a markdown table, most recent step first.
func LogMarkdown(sessionID string, counter int, markers []tracking.Marker) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session `%s`\n\n", sessionID)
	fmt.Fprintf(&sb, "**%d** tracked change(s).\n\n", counter)
	if len(markers) == 0 {
		return sb.String()
	}

	loc := locator.New()
	sb.WriteString("| Step | Change | Context | Payload |\n")
	sb.WriteString("|-----:|--------|---------|---------|\n")
	for i := len(markers) - 1; i >= 0; i-- {
		m := markers[i]
		ctx := loc.Path(m.Parent)
		if ctx == "" {
			ctx = "/"
		}
		fmt.Fprintf(&sb, "| %d | %s | `%s` | %s |\n", m.Step, m.Type, ctx, cell(m.Data))
	}
	return sb.String()
}

// cell keeps a payload on one table row.
func cell(s string) string {
	const limit = 60
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		s = s[:limit] + "…"
	}
	if s == "" {
		return ""
	}
	return "`" + strings.ReplaceAll(s, "|", "\\|") + "`"
}
