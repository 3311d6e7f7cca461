package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/marginalia/internal/config"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Backend: config.BackendMemory, Integrity: true}

	var out bytes.Buffer
	app, err := NewApp(cfg, &out, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app, &out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApp_EditFlow(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Start(ctx, "s1", writeFile(t, "doc.xml", `<form><title>Old</title></form>`)))
	assert.Contains(t, out.String(), "Session 's1' started (0 tracked changes).")

	out.Reset()
	script := writeFile(t, "script.yaml", `
- op: breakpoint
  label: rename
- op: set-text
  path: /form/title
  text: New
- op: add-attribute
  key: lang
  value: en
`)
	require.NoError(t, app.Apply(ctx, "s1", script))
	var outcomes []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcomes))
	require.Len(t, outcomes, 3)
	assert.Equal(t, float64(3), outcomes[2]["counter"])

	out.Reset()
	require.NoError(t, app.Inspect(ctx, "s1", FormatJSON))
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "set-element-text", entries[1]["type"])
	assert.Equal(t, "/form/title", entries[1]["context"])

	out.Reset()
	require.NoError(t, app.Inspect(ctx, "s1", FormatMermaid))
	assert.Contains(t, out.String(), "class step3 current;")

	out.Reset()
	require.NoError(t, app.Inspect(ctx, "s1", FormatMarkdown))
	assert.Contains(t, out.String(), "| 3 | added-attribute | `/form` |")

	assert.Error(t, app.Inspect(ctx, "s1", "yaml"))

	out.Reset()
	require.NoError(t, app.Undo(ctx, "s1", UndoOptions{}))
	assert.Contains(t, out.String(), "Undone: added-attribute")

	out.Reset()
	require.NoError(t, app.Undo(ctx, "s1", UndoOptions{Breakpoint: true}))
	assert.Contains(t, out.String(), "Undone through breakpoint 'rename'.")

	out.Reset()
	require.NoError(t, app.Clean(ctx, "s1"))
	assert.Equal(t, "<form><title>Old</title></form>\n", out.String())
}

func TestApp_UndoTo(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, app.Start(ctx, "s1", writeFile(t, "doc.xml", `<a/>`)))
	require.NoError(t, app.Apply(ctx, "s1", writeFile(t, "s.yaml", `
- {op: add-attribute, key: x, value: "1"}
- {op: add-attribute, key: y, value: "2"}
`)))

	zero := 0
	out.Reset()
	require.NoError(t, app.Undo(ctx, "s1", UndoOptions{To: &zero}))
	assert.Contains(t, out.String(), "Undone down to step 0.")

	out.Reset()
	require.NoError(t, app.Clean(ctx, "s1"))
	assert.Equal(t, "<a/>\n", out.String())
}

func TestApp_Sessions(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.ListSessions(ctx))
	assert.Contains(t, out.String(), "No active sessions found.")

	doc := writeFile(t, "doc.xml", `<a/>`)
	require.NoError(t, app.Start(ctx, "s1", doc))
	require.NoError(t, app.Start(ctx, "s2", doc))

	out.Reset()
	require.NoError(t, app.ListSessions(ctx))
	assert.Equal(t, "Active Sessions:\n- s1\n- s2\n", out.String())

	out.Reset()
	require.NoError(t, app.ShowSession(ctx, "s1"))
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, "<a/>", snap.Document)

	out.Reset()
	require.NoError(t, app.DeleteSessions(ctx, []string{"s1"}))
	assert.Contains(t, out.String(), "Removed session 's1'")

	err := app.ShowSession(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestFileMode(t *testing.T) {
	app, out := newTestApp(t)
	path := writeFile(t, "tracked.xml", `<a><?mg1-added-attribute x="1"?><?keep me?></a>`)

	var buf bytes.Buffer
	require.NoError(t, CleanFile(&buf, path, "mg"))
	assert.Equal(t, "<a><?keep me?></a>\n", buf.String())

	require.NoError(t, app.InspectFile(path, FormatJSON))
	assert.Contains(t, out.String(), `"type": "added-attribute"`)
}

func TestApp_Serve(t *testing.T) {
	app, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
