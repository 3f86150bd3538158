// Package manifest persists the durable session record of every work item.
// The SQLite store is the source of truth; in-memory items held by the
// scheduler are a cache seeded from it and written back on every state
// transition, which is what makes an interrupted batch resumable.
package manifest
