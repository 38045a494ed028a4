// ABOUTME: In-memory Cache fake for development (mock-cache toggle) and tests.
// ABOUTME: Single-process only: Publish fans out directly to local subscribers.

package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// MemoryCache is an in-process Cache implementation. It satisfies the
// optional mock-cache development toggle named in §6 and lets single-process
// tests exercise the presence mirror and pub/sub bus without Redis.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
	subs map[string]map[int]chan []byte
	next int
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]memoryEntry),
		subs: make(map[string]map[int]chan []byte),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		return nil, ErrMiss
	}
	return e.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.data[key] = memoryEntry{value: value, expires: expires}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryCache) Publish(_ context.Context, channel string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (c *MemoryCache) Subscribe(_ context.Context, channel string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	c.next++
	ch := make(chan []byte, 64)
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[int]chan []byte)
	}
	c.subs[channel][id] = ch

	return &memorySubscription{cache: c, channel: channel, id: id, ch: ch}, nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subs := range c.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	c.subs = make(map[string]map[int]chan []byte)
	return nil
}

type memorySubscription struct {
	cache   *MemoryCache
	channel string
	id      int
	ch      chan []byte
	once    sync.Once
}

func (s *memorySubscription) Channel() <-chan []byte { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.cache.mu.Lock()
		defer s.cache.mu.Unlock()
		if subs, ok := s.cache.subs[s.channel]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.cache.subs, s.channel)
			}
		}
		close(s.ch)
	})
	return nil
}
