// Package ephemeral implements the Ephemeral Signal Pipeline (component E):
// typing debounce, read-receipt throttle, presence/reaction batch windows,
// and per-session rate limiting (§4.5).
//
// Grounded on the teacher's reusable time.NewTimer stop/drain/reset idiom
// (conversation/service.go's background-persistence retry loop) — "timer-
// driven reducers rather than sleep-interspersed loops" per §9 — and on the
// batch-on-ticker-or-size-full pattern read from the retrieval pack's
// open-im-server msggateway/online.go, adapted from presence-batch to
// per-signal-kind batching.
package ephemeral
