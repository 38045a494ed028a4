// Package delivery implements the Delivery Tracker (component D): the
// four-state per-(message, recipient) lifecycle queued -> sent -> delivered
// -> read, with monotonic idempotent transitions and coalesced
// mark-conversation-read promotion.
//
// No teacher file implements a delivery state machine directly; this is
// built on the guard-and-no-op idiom read from the teacher's
// store.ErrDuplicateThread race-recovery path, applied here to state
// transitions instead of thread creation.
package delivery
