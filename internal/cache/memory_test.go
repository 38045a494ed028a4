package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_PublishSubscribe(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "chan1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Publish(ctx, "chan1", []byte("hello")))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, []byte("hello"), msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestMemoryCache_SubscribeCloseStopsDelivery(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "chan1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, ok := <-sub.Channel()
	assert.False(t, ok, "channel should be closed after Close")
}
