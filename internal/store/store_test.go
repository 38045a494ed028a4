package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-core/internal/model"
)

// storeFactories lets the shared conformance suite run against every
// backing Store implementation with identical assertions.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"mock": func() Store {
			return NewMockStore()
		},
		"sqlite": func() Store {
			s, err := NewSQLiteStore(":memory:")
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_Conformance(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			alice := &model.User{ID: "u-alice", Handle: "alice", DisplayName: "Alice", CreatedAt: time.Now()}
			bob := &model.User{ID: "u-bob", Handle: "bob", DisplayName: "Bob", CreatedAt: time.Now()}
			require.NoError(t, s.CreateUser(ctx, alice))
			require.NoError(t, s.CreateUser(ctx, bob))

			err := s.CreateUser(ctx, &model.User{ID: "u-alice-2", Handle: "alice", CreatedAt: time.Now()})
			assert.ErrorIs(t, err, ErrAlreadyExists)

			got, err := s.GetUserByHandle(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, "u-bob", got.ID)

			conv := &model.Conversation{
				ID:             "c-1",
				Kind:           model.ConversationDirect,
				Participants:   []string{"u-alice", "u-bob"},
				CreatedAt:      time.Now(),
				LastActivityAt: time.Now(),
			}
			require.NoError(t, s.CreateConversation(ctx, conv))

			dup := &model.Conversation{
				ID:           "c-2",
				Kind:         model.ConversationDirect,
				Participants: []string{"u-bob", "u-alice"},
				CreatedAt:    time.Now(), LastActivityAt: time.Now(),
			}
			assert.ErrorIs(t, s.CreateConversation(ctx, dup), ErrDuplicateConversation)

			gotConv, err := s.GetDirectConversation(ctx, "u-bob", "u-alice")
			require.NoError(t, err)
			assert.Equal(t, "c-1", gotConv.ID)

			msg := &model.Message{
				ID: "m-1", ConversationID: "c-1", SenderID: "u-alice",
				Payload: "hello", ReadReceiptsEnabled: true, CreatedAt: time.Now(),
			}
			require.NoError(t, s.SaveMessage(ctx, msg))

			rec := &model.DeliveryRecord{
				MessageID: "m-1", ConversationID: "c-1", RecipientID: "u-bob", SenderID: "u-alice",
				State: model.DeliveryQueued, QueuedAt: time.Now(),
			}
			require.NoError(t, s.UpsertDeliveryRecord(ctx, rec))

			undelivered, err := s.ListUndeliveredForRecipient(ctx, "u-bob")
			require.NoError(t, err)
			require.Len(t, undelivered, 1)
			assert.Equal(t, model.DeliveryQueued, undelivered[0].State)

			promoted, err := s.MarkConversationRead(ctx, "c-1", "u-bob", time.Now())
			require.NoError(t, err)
			require.Len(t, promoted, 1)
			assert.Equal(t, model.DeliveryRead, promoted[0].State)

			require.NoError(t, s.AddReaction(ctx, &model.Reaction{MessageID: "m-1", UserID: "u-bob", Emoji: "👍", CreatedAt: time.Now()}))
			reactions, err := s.ListReactions(ctx, "m-1")
			require.NoError(t, err)
			require.Len(t, reactions, 1)

			item := &model.OfflineItem{ID: "o-1", RecipientID: "u-bob", EventType: "message", MessageID: "m-1", EnqueuedAt: time.Now()}
			require.NoError(t, s.EnqueueOffline(ctx, item))
			count, err := s.CountOffline(ctx, "u-bob")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			drained, err := s.DrainOffline(ctx, "u-bob", 10)
			require.NoError(t, err)
			require.Len(t, drained, 1)
			require.NoError(t, s.DeleteOfflineItem(ctx, "o-1"))
			count, err = s.CountOffline(ctx, "u-bob")
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			sub := &model.PushSubscription{
				ID: "p-1", UserID: "u-bob", Endpoint: "https://push.example/abc",
				P256dhKey: "key", AuthKey: "auth", CreatedAt: time.Now(),
			}
			require.NoError(t, s.SavePushSubscription(ctx, sub))
			subs, err := s.ListPushSubscriptions(ctx, "u-bob")
			require.NoError(t, err)
			require.Len(t, subs, 1)

			require.NoError(t, s.RecordPushFailure(ctx, "p-1", time.Now().Add(-time.Hour)))
			stale, err := s.ListStalePushSubscriptions(ctx, time.Now())
			require.NoError(t, err)
			require.Len(t, stale, 1)

			settings := &model.NotificationSettings{UserID: "u-bob", Enabled: true, MutedConvos: map[string]bool{"c-9": true}}
			require.NoError(t, s.SaveNotificationSettings(ctx, settings))
			gotSettings, err := s.GetNotificationSettings(ctx, "u-bob")
			require.NoError(t, err)
			assert.True(t, gotSettings.MutedConvos["c-9"])

			require.NoError(t, s.RecordNotificationSent(ctx, "u-bob", "m-1", time.Now().Add(-48*time.Hour)))
			purged, err := s.PurgeNotificationHistory(ctx, time.Now().Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), purged)

			require.NoError(t, s.RecordStatusChange(ctx, "u-bob", model.PresenceAway, time.Now()))

			_, err = s.GetUser(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetConversation(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetMessage(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDeliveryState_Precedes(t *testing.T) {
	assert.True(t, model.DeliveryQueued.Precedes(model.DeliverySent))
	assert.True(t, model.DeliverySent.Precedes(model.DeliveryDelivered))
	assert.True(t, model.DeliveryDelivered.Precedes(model.DeliveryRead))
	assert.False(t, model.DeliveryRead.Precedes(model.DeliveryQueued))
	assert.False(t, model.DeliveryQueued.Precedes(model.DeliveryQueued))
}
