// Package store provides persistent storage for conversations using SQLite.
//
// # Data Models
//
//   - Conversation: owner, immutable title and chat name, creation and
//     last-activity timestamps
//   - Turn: one prompt/response exchange; immutable once appended
//
// Turns are append-only. A model switch is recorded as a new Turn, never
// as an edit of a prior one.
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC text, so ORDER BY created_at is
// chronological. Every turn also receives an autoincrement seq, which
// breaks ties between turns that share a timestamp:
//
//	ORDER BY created_at ASC, seq ASC
//
// # Bookmarks
//
// Bookmarks are a per-owner set. SetBookmark adds or removes membership and
// returns the resulting state; repeated calls are idempotent.
//
// # Drivers
//
// Two database/sql drivers are registered:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// Both run with WAL journaling and foreign keys enabled. The schema is
// created on open with CREATE TABLE IF NOT EXISTS.
//
// # Testing
//
// MockStore is an in-memory implementation with injectable failures for
// exercising persistence error paths.
package store
