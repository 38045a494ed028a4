// Package cache defines the shared-cache / pub-sub capability surface (§9
// "dynamic dispatch for transports") and provides a Redis-backed production
// implementation plus an in-memory fake for development and tests.
package cache
