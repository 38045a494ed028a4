// Package offlinequeue implements the Offline Queue (component F): a
// durable, per-recipient FIFO of envelopes for recipients with no live
// session, drained on reconnect, bounded with ephemeral-first eviction
// (§4.6).
//
// Grounded on the teacher's store-backed durability pattern (every
// mutation goes straight through store.Store, no separate WAL) and on
// the retrieval pack's dedupe.Cache, reused here during Drain keyed by
// (recipientID, sessionID, messageID) so a message replayed twice to the
// same session is handed over once. The cache lives in memory and does not
// survive a gateway restart.
package offlinequeue
