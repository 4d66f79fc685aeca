// Package storage is the delivery journal: an append-only record of push
// outcomes and connection lifecycle changes.
//
// Two drivers exist:
//   - "file": JSON Lines, compacted when it grows past a line budget
//   - "sqlite": a SQLite database through modernc.org/sqlite (pure Go)
package storage
