// Package store provides persistence for conversations, messages, and
// directory records.
//
// # Overview
//
// The store is the sole durable source of truth. Messages form a
// per-conversation append-only log keyed by a gapless sequence number, which
// doubles as the sync cursor for both push and poll delivery. Conversation
// state (status, assigned operator, priority) lives alongside the log, and
// a message append commits atomically with its status transition.
//
// # Invariants enforced here
//
//   - (conversation_id, sequence) is UNIQUE; a collision between concurrent
//     writers surfaces as ErrSequenceConflict and the caller retries.
//   - A customer holds at most one open/pending conversation, enforced by a
//     partial unique index; violations surface as ErrActiveConversation.
//   - closed_at is set if and only if status is closed.
//
// # SQLite
//
// SQLiteStore implements Store using modernc.org/sqlite with WAL mode and
// foreign keys enabled. The schema is created on first open.
package store
