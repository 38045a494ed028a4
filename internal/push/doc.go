// Package push implements the Push Dispatcher (component G): classifies
// events into notification intents, applies per-user preferences (the
// enabled flag, quiet hours, per-conversation mute), and hands surviving
// intents to a web-push transport with retry and subscription eviction
// (§4.7). There is no per-event-type preference: which kinds are pushable
// is fixed by IsPushable.
//
// Grounded on the retrieval pack's WAN-Ninjas-AmityVox manifest, which
// pairs github.com/SherClockHolmes/webpush-go with the same
// coder/websocket + Redis stack used elsewhere in this module, and on
// the teacher's exponential-backoff retry idiom (conversation persistence
// retry loop). The housekeeping cron is grounded on the cron-job pattern
// read from vison888-open-im-server and beeper-ai-bridge in the pack.
package push
