// Package storage persists scheduled tasks and the tracked items they point at.
//
// Drivers:
//   - memory: process-local maps (tests, one-shot CLI runs)
//   - file:   a single JSON document rewritten atomically on every mutation
//   - sqlite: modernc.org/sqlite database with embedded migrations
package storage
