/*
Package session keeps tracked documents alive between requests.

A Session pairs a document with the tracker that owns its markers. The Manager stores
sessions as snapshots, serializes access per session with reference-counted local locks
(plus an optional ports.DistributedLocker across replicas), and enforces the failure
policy of the change log: a fatal error during an edit discards the edit and restarts
the session from the clean form of its last stored document.
*/
package session
