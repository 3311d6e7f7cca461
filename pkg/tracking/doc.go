// Package tracking records undoable edits inside the document they modify.
//
// Every tracked change is stored as a processing instruction ("marker") placed at the
// position where the change happened:
//
//	<?mg3-removed-element <field name="email"/>?>
//
// The target encodes the step number and the change type, the data carries the payload
// needed to invert the change. Because the undo log travels inside the document, an edit
// session survives any number of stateless request/response round trips: serialize the
// document, send it away, parse it back and keep undoing.
//
// # Forward helpers
//
// Each change kind has a helper that performs the edit and tracks it:
//
//	t := tracking.New()
//	_ = tracking.Breakpoint(t, form, "step1")
//	_ = tracking.AddAttribute(t, field, "required", "true")
//	_ = tracking.SetElementText(t, label, "E-mail")
//
// # Undo
//
// Changes are undone strictly in reverse order:
//
//	rec, err := t.UndoLastChange(doc)      // one step
//	err = t.UndoChanges(doc, 1)             // down to step 1
//	label, ok, err := t.UndoLastBreakpoint(doc)
//
// Errors wrapping domain.ErrDecode, domain.ErrInconsistentLog or domain.ErrUnsupportedType
// mean the log is corrupt; callers must discard the session and restart from
// RemoveChangeTracking's clean copy.
package tracking
