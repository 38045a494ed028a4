// ABOUTME: Redis-backed implementation of the shared cache / pub-sub bus.
// ABOUTME: Every call carries the 500ms shared-cache deadline from the concurrency model (§5).

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCallTimeout = 500 * time.Millisecond

// RedisCache implements Cache over a go-redis client. It is the "shared
// cache" collaborator named throughout the spec: the cross-process presence
// mirror (§4.2.1) and the pub/sub bus (§4.3.1) are both this one client.
type RedisCache struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisCache dials addr/db with the given password. timeout overrides the
// default 500ms per-call deadline; pass 0 to use the default.
func NewRedisCache(addr, password string, db int, timeout time.Duration) *RedisCache {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		timeout: timeout,
	}
}

func (c *RedisCache) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Get returns ErrMiss when the key does not exist, matching the Cache contract.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a PubSub subscription that outlives the passed ctx's
// deadline (subscriptions are long-lived); ctx is only used for the initial
// handshake.
func (c *RedisCache) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := c.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				// Slow subscriber: drop rather than block the redis client loop.
			}
		}
	}()
	return &redisSubscription{sub: sub, ch: out}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

type redisSubscription struct {
	sub *redis.PubSub
	ch  chan []byte
}

func (s *redisSubscription) Channel() <-chan []byte { return s.ch }
func (s *redisSubscription) Close() error           { return s.sub.Close() }
