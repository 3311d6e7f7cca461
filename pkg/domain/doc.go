/*
Package domain contains the core value types of the Marginalia change-tracking engine.

It defines what a tracked change looks like, how an in-progress edit session is
snapshotted between round trips, and the error kinds that abort a session. The
package holds no I/O and no tracking logic.

# Key Entities

  - ChangeType: The tag naming one of the nine change kinds (added-element, breakpoint, ...).
  - ChangeRecord: A single undo-log entry (type, payload, position, context element).
  - Snapshot: The serialized document plus its step counter, as carried across requests.
  - ChangeEvent / LifecycleHooks: Callbacks fired when changes are tracked or undone.
*/
package domain
