/*
Package ports defines the driven ports (interfaces) around the change tracker.

These interfaces decouple session handling from storage and coordination backends.

# Key Interfaces

  - SnapshotStore: persists a session's tracked document and counter.
  - DistributedLocker: serializes edits to one session across replicas.
  - Locator: builds and resolves element locators for diagnostics and re-entry.
*/
package ports
