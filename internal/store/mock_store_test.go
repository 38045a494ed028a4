// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on duplicate detection and edge cases specific to in-memory implementation

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-core/internal/model"
)

func TestMockStore_CreateUser_DuplicateID(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	u := &model.User{ID: "u-1", Handle: "alice", CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, u))

	err := s.CreateUser(ctx, &model.User{ID: "u-1", Handle: "alice2", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMockStore_GetUser_ReturnsIndependentCopy(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u-1", Handle: "alice", DisplayName: "Alice", CreatedAt: time.Now()}))

	got, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	got.DisplayName = "mutated"

	got2, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got2.DisplayName)
}

func TestMockStore_RemoveParticipant_ThenListConversationsForUser(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	conv := &model.Conversation{
		ID: "c-1", Kind: model.ConversationGroup, Participants: []string{"u-a", "u-b"},
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NoError(t, s.RemoveParticipant(ctx, "c-1", "u-b"))

	convs, err := s.ListConversationsForUser(ctx, "u-b")
	require.NoError(t, err)
	assert.Empty(t, convs)

	convs, err = s.ListConversationsForUser(ctx, "u-a")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestMockStore_TrimOldestOffline_KeepsNewest(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.EnqueueOffline(ctx, &model.OfflineItem{
			ID: string(rune('a' + i)), RecipientID: "u-1", EventType: "presence",
			EnqueuedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, s.TrimOldestOffline(ctx, "u-1", 2))
	count, err := s.CountOffline(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	items, err := s.DrainOffline(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "d", items[0].ID)
	assert.Equal(t, "e", items[1].ID)
}

func TestMockStore_SavePushSubscription_UpsertsByEndpoint(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	sub := &model.PushSubscription{ID: "p-1", UserID: "u-1", Endpoint: "https://push.example/x", P256dhKey: "k1", AuthKey: "a1", CreatedAt: time.Now()}
	require.NoError(t, s.SavePushSubscription(ctx, sub))

	updated := &model.PushSubscription{ID: "p-2", UserID: "u-1", Endpoint: "https://push.example/x", P256dhKey: "k2", AuthKey: "a2", CreatedAt: time.Now()}
	require.NoError(t, s.SavePushSubscription(ctx, updated))

	subs, err := s.ListPushSubscriptions(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256dhKey)
}

func TestMockStore_MarkConversationRead_IsIdempotent(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	rec := &model.DeliveryRecord{MessageID: "m-1", ConversationID: "c-1", RecipientID: "u-b", SenderID: "u-a", State: model.DeliverySent, QueuedAt: time.Now()}
	require.NoError(t, s.UpsertDeliveryRecord(ctx, rec))

	promoted, err := s.MarkConversationRead(ctx, "c-1", "u-b", time.Now())
	require.NoError(t, err)
	require.Len(t, promoted, 1)

	promotedAgain, err := s.MarkConversationRead(ctx, "c-1", "u-b", time.Now())
	require.NoError(t, err)
	assert.Empty(t, promotedAgain)
}
