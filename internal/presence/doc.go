// Package presence implements the Presence Registry (component B): the
// authoritative user-id/session-id indexes, grace-period offline detection,
// server-inferred away promotion, and the cross-process mirror that lets a
// process answer "is this user online" for sessions it does not itself own.
//
// Grounded on the teacher's agent.Manager (mutex-guarded registration map,
// Register/Unregister shape) generalized from agent connections to user
// sessions, and on the sharded renewal-ticker pattern read from the
// retrieval pack's open-im-server msggateway/online.go for the cache-mirror
// renewal loop.
package presence
