// Package dedupe provides event deduplication using a time-based cache,
// giving the offline queue's drain replay its at-most-once-per-session
// guarantee within a configurable window.
package dedupe
