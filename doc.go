/*
Package marginalia is an embedded change-tracking and undo engine for XML documents.

Every tracked edit leaves a processing-instruction marker inside the document itself, for
example <?mg3-added-attribute required="true"?>. The markers form a LIFO undo log that
travels with the XML: a document can be stored, sent elsewhere and reloaded, and its
changes can still be undone one by one, back to a labelled breakpoint, or back to any step.

# Layers

  - pkg/tracking: the tracker, the nine change kinds and their inverses.
  - pkg/session: edit sessions persisted through a ports.SnapshotStore.
  - pkg/script: YAML/JSON edit scripts applied atomically to a session.
  - pkg/adapters: snapshot stores (memory, file, redis, badger), HTTP and MCP surfaces.

# Usage

	eng := marginalia.New()
	ctx := context.Background()

	if _, err := eng.Start(ctx, "draft", `<form><title>Old</title></form>`); err != nil {
		log.Fatal(err)
	}

	_, err := eng.ApplyScript(ctx, "draft", []byte(`
	- op: breakpoint
	  label: rename
	- op: set-text
	  path: /form/title
	  text: New
	`))
	if err != nil {
		log.Fatal(err)
	}

	// Back to the original document.
	if _, _, err := eng.UndoBreakpoint(ctx, "draft"); err != nil {
		log.Fatal(err)
	}
*/
package marginalia
