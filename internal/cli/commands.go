package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/marginalia/internal/presentation/graph"
	"github.com/aretw0/marginalia/internal/presentation/tui"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/locator"
	"github.com/aretw0/marginalia/pkg/session"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
)

// Inspect output formats.
const (
	FormatMarkdown = "markdown"
	FormatMermaid  = "mermaid"
	FormatJSON     = "json"
)

// Start creates a session from the XML file at path ("-" reads stdin).
func (a *App) Start(ctx context.Context, sessionID, path string) error {
	xml, err := readInput(path)
	if err != nil {
		return err
	}
	sess, err := a.Engine.Start(ctx, sessionID, string(xml))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Session '%s' started (%d tracked changes).\n", sess.ID, sess.Tracker.Counter())
	return nil
}

// Apply runs the script at path against a session and prints the outcomes as JSON.
func (a *App) Apply(ctx context.Context, sessionID, path string) error {
	data, err := readInput(path)
	if err != nil {
		return err
	}
	outcomes, err := a.Engine.ApplyScript(ctx, sessionID, data)
	if err != nil {
		return err
	}
	return a.printJSON(outcomes)
}

// UndoOptions selects what Undo reverts. The zero value undoes the last change.
type UndoOptions struct {
	To         *int
	Breakpoint bool
}

// Undo reverts changes of a session.
func (a *App) Undo(ctx context.Context, sessionID string, opts UndoOptions) error {
	switch {
	case opts.Breakpoint:
		label, found, err := a.Engine.UndoBreakpoint(ctx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(a.Out, "No breakpoint found: every change was undone.")
			return nil
		}
		fmt.Fprintf(a.Out, "Undone through breakpoint '%s'.\n", label)
	case opts.To != nil:
		if err := a.Engine.UndoTo(ctx, sessionID, *opts.To); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Undone down to step %d.\n", *opts.To)
	default:
		kind, err := a.Engine.Undo(ctx, sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Undone: %s\n", kind)
	}
	return nil
}

// Clean prints the session document without markers.
func (a *App) Clean(ctx context.Context, sessionID string) error {
	xml, err := a.Engine.Clean(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, xml)
	return nil
}

// Inspect prints the undo log of a session.
func (a *App) Inspect(ctx context.Context, sessionID, format string) error {
	sess, err := a.Engine.Manager().Load(ctx, sessionID)
	if err != nil {
		return err
	}
	return a.printLog(sess.ID, sess.Tracker.Counter(), tracking.Markers(sess.Document, sess.Tracker.Prefix()), format)
}

// ListSessions prints the stored session IDs.
func (a *App) ListSessions(ctx context.Context) error {
	ids, err := a.Engine.Manager().List(ctx)
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(a.Out, "No active sessions found.")
		return nil
	}
	fmt.Fprintln(a.Out, "Active Sessions:")
	for _, id := range ids {
		fmt.Fprintln(a.Out, "- "+id)
	}
	return nil
}

// ShowSession prints the stored snapshot of a session as JSON.
func (a *App) ShowSession(ctx context.Context, sessionID string) error {
	sess, err := a.Engine.Manager().Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("error loading session '%s': %w", sessionID, err)
	}
	snap, err := sess.Snapshot()
	if err != nil {
		return err
	}
	return a.printJSON(snap)
}

// DeleteSessions removes sessions, reporting each one, and fails if any removal failed.
func (a *App) DeleteSessions(ctx context.Context, ids []string) error {
	failed := 0
	for _, id := range ids {
		if err := a.Engine.Manager().Delete(ctx, id); err != nil {
			fmt.Fprintf(a.Out, "Error removing '%s': %v\n", id, err)
			failed++
			continue
		}
		fmt.Fprintf(a.Out, "Removed session '%s'\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d session(s) could not be removed", failed)
	}
	return nil
}

// CleanFile prints the XML file at path without markers. No store is involved.
func CleanFile(out io.Writer, path, prefix string) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	xml, err := tracking.Strip(doc, prefix).WriteToString()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, xml)
	return nil
}

// InspectFile prints the undo log embedded in the XML file at path.
func (a *App) InspectFile(path, format string) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	prefix := a.Config.Tracking.Prefix
	n, err := tracking.Verify(doc, prefix)
	if err != nil {
		a.Logger.Warn("change log is inconsistent", "path", path, "err", err)
	}
	return a.printLog(path, n, tracking.Markers(doc, prefix), format)
}

func (a *App) printLog(name string, counter int, markers []tracking.Marker, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		type entry struct {
			Step     int               `json:"step"`
			Type     domain.ChangeType `json:"type"`
			Text     string            `json:"text"`
			Context  string            `json:"context"`
			Position int               `json:"position"`
		}
		loc := locator.New()
		entries := make([]entry, 0, len(markers))
		for _, m := range markers {
			entries = append(entries, entry{m.Step, m.Type, m.Data, loc.Path(m.Parent), m.Index})
		}
		return a.printJSON(entries)
	case FormatMermaid:
		_, err := fmt.Fprint(a.Out, graph.GenerateMermaid(markers))
		return err
	case FormatMarkdown, "":
		md := tui.LogMarkdown(name, counter, markers)
		if f, ok := a.Out.(*os.File); ok && tui.IsTerminal(f) {
			if rendered, err := tui.NewRenderer()(md); err == nil {
				md = rendered
			}
		}
		_, err := fmt.Fprint(a.Out, md)
		return err
	default:
		return fmt.Errorf("unknown format %q (want markdown, mermaid or json)", format)
	}
}

func readDocument(path string) (*etree.Document, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	return session.Parse(string(data))
}
