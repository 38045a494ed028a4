// Package conversation implements the Conversation Router (component C):
// the conversation -> participants membership cache and the dispatch
// fan-out that decides, per recipient, whether an event goes straight to a
// local session, across the cross-process pub/sub bus, or into the Offline
// Queue with a Push Dispatcher intent (§4.3).
//
// Grounded on the teacher's in-process broadcaster (internal/broadcaster,
// kept verbatim as the local fan-out primitive) plus the sharded-mutex
// membership cache shape used by internal/presence, generalized from
// per-user session state to per-conversation participant lists.
package conversation
