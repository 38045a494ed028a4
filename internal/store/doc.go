// Package store provides persistent storage for the messaging core.
//
// Store is the single repository interface every component depends on.
// SQLiteStore is the production implementation, backed by
// modernc.org/sqlite; MockStore is an in-memory equivalent used by tests
// across the other internal packages.
//
// # Data model
//
//   - User: a registered account and its live presence fields
//   - Conversation: a direct or group channel, with its participant list
//   - Message: immutable conversation content, soft-deleted via a tombstone
//   - DeliveryRecord: one (message, recipient) pair's position in the
//     queued -> sent -> delivered -> read lifecycle
//   - Reaction: a (message, user, emoji) triple
//   - OfflineItem: an envelope queued for a recipient with no live session
//   - PushSubscription / NotificationSettings: web-push registration and
//     per-user preferences
//
// # SQLite configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 strings. Sentinel errors (ErrNotFound,
// ErrDuplicateConversation, ErrAlreadyExists) let callers branch on
// not-found and conflict conditions without depending on a specific
// backend's error types.
//
// # Testing
//
// Use NewMockStore() for unit tests; use NewSQLiteStore(":memory:") for
// integration tests against real SQLite.
package store
