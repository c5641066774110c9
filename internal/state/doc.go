// Package state provides the gateway's durable key/value store.
//
// Values are arbitrary JSON documents keyed by string. Every mutating call
// is write-through: the new mapping is persisted before it becomes visible,
// so memory and storage agree whenever a call returns. A failed flush leaves
// both untouched.
//
// Two backends are provided:
//   - FileBackend: one JSON object, replaced atomically (temp file + rename)
//   - BoltBackend: a bbolt bucket with one key per entry, one transaction per flush
//
// A missing backing store is an empty state. Unparseable content is ErrStateLoad.
package state
