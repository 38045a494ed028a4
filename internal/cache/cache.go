// ABOUTME: Shared-cache and pub/sub capability surface for cross-process state.
// ABOUTME: One narrow interface covers both the presence mirror and the conversation pub/sub bus.

package cache

import (
	"context"
	"time"
)

// Subscription is a live subscription to a pub/sub channel. Messages arrive
// on Channel(); Close stops delivery and releases the underlying connection.
type Subscription interface {
	Channel() <-chan []byte
	Close() error
}

// Cache is the capability surface every component that needs cross-process
// state is written against: get/set/delete for mirrored state (presence,
// rate-limit counters) and publish/subscribe for the cross-instance fan-out
// bus (§4.2.1, §4.3.1). Production is backed by Redis; development and tests
// use the in-memory fake in memory.go.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Close() error
}

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }
