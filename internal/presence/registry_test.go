// ABOUTME: Tests for the Presence Registry's grace period, away inference, and mirror.

package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-core/internal/cache"
	"github.com/2389/chat-core/internal/model"
)

func newTestRegistry(t *testing.T, onChange ChangeHandler) *Registry {
	t.Helper()
	r := New(Config{
		Cache:         cache.NewMemoryCache(),
		InstanceID:    "test-instance",
		GracePeriod:   30 * time.Millisecond,
		AwayThreshold: 60 * time.Millisecond,
		OnChange:      onChange,
	})
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_SessionOpened_FirstSessionGoesOnline(t *testing.T) {
	var mu sync.Mutex
	var changes []Change
	r := newTestRegistry(t, func(_ context.Context, c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	r.SessionOpened(context.Background(), "u1", "s1", "")

	snap := r.Snapshot(context.Background(), []string{"u1"})
	assert.Equal(t, model.PresenceOnline, snap["u1"].Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, model.PresenceOnline, changes[0].Status)
}

func TestRegistry_SecondSessionDoesNotReemit(t *testing.T) {
	var count int
	var mu sync.Mutex
	r := newTestRegistry(t, func(_ context.Context, c Change) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	r.SessionOpened(context.Background(), "u1", "s1", "")
	r.SessionOpened(context.Background(), "u1", "s2", "")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestRegistry_GracePeriod_SuppressesFlicker(t *testing.T) {
	var mu sync.Mutex
	var changes []Change
	r := newTestRegistry(t, func(_ context.Context, c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	r.SessionOpened(context.Background(), "u1", "s1", "")
	r.SessionClosed(context.Background(), "s1")
	// Reconnect immediately, well inside the grace period.
	r.SessionOpened(context.Background(), "u1", "s2", "")

	time.Sleep(60 * time.Millisecond)

	snap := r.Snapshot(context.Background(), []string{"u1"})
	assert.Equal(t, model.PresenceOnline, snap["u1"].Status)

	mu.Lock()
	defer mu.Unlock()
	for _, c := range changes {
		assert.NotEqual(t, model.PresenceOffline, c.Status, "should never have gone offline across a fast reconnect")
	}
}

func TestRegistry_GraceExpiry_GoesOffline(t *testing.T) {
	done := make(chan Change, 4)
	r := newTestRegistry(t, func(_ context.Context, c Change) {
		done <- c
	})

	r.SessionOpened(context.Background(), "u1", "s1", "")
	<-done // online
	r.SessionClosed(context.Background(), "s1")

	select {
	case c := <-done:
		assert.Equal(t, model.PresenceOffline, c.Status)
	case <-time.After(time.Second):
		t.Fatal("expected offline change after grace period")
	}

	snap := r.Snapshot(context.Background(), []string{"u1"})
	assert.Equal(t, model.PresenceOffline, snap["u1"].Status)
}

func TestRegistry_NoResurrectionAfterOffline(t *testing.T) {
	r := newTestRegistry(t, nil)

	r.SessionOpened(context.Background(), "u1", "s1", "")
	r.SessionClosed(context.Background(), "s1")
	time.Sleep(60 * time.Millisecond)

	assert.False(t, r.IsOnlineLocally("u1"))
	assert.Empty(t, r.SessionsFor("u1"))
}

func TestRegistry_AwayPromotionAndRevert(t *testing.T) {
	changes := make(chan Change, 8)
	r := newTestRegistry(t, func(_ context.Context, c Change) { changes <- c })

	r.SessionOpened(context.Background(), "u1", "s1", "")
	<-changes // online

	var sawAway bool
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case c := <-changes:
			if c.Status == model.PresenceAway {
				sawAway = true
				break loop
			}
		case <-deadline:
			break loop
		}
	}
	require.True(t, sawAway, "expected away promotion")

	r.Touch(context.Background(), "u1")
	select {
	case c := <-changes:
		assert.Equal(t, model.PresenceOnline, c.Status)
	case <-time.After(time.Second):
		t.Fatal("expected online revert after touch")
	}
}

func TestRegistry_SetStatus_Overrides(t *testing.T) {
	r := newTestRegistry(t, nil)
	r.SessionOpened(context.Background(), "u1", "s1", "")
	r.SetStatus(context.Background(), "u1", model.PresenceBusy, "in a meeting", "📵")

	snap := r.Snapshot(context.Background(), []string{"u1"})
	assert.Equal(t, model.PresenceBusy, snap["u1"].Status)
	assert.Equal(t, "in a meeting", snap["u1"].CustomMessage)
}

func TestRegistry_Snapshot_OfflineWhenNoCacheAndNoLocalState(t *testing.T) {
	r := New(Config{GracePeriod: time.Second, AwayThreshold: time.Second})
	defer r.Close()

	snap := r.Snapshot(context.Background(), []string{"ghost"})
	assert.Equal(t, model.PresenceOffline, snap["ghost"].Status)
}
