// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the notifier's core logic: read-only access to tasks and users, and the
// leased dedup records that keep repeated scans from notifying twice.
package store
