// ABOUTME: Store interface and sentinel errors for chat-core persistence
// ABOUTME: Defines the repository surface every component talks to instead of a concrete database

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/chat-core/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a direct conversation between
// the same pair of users already exists (§4.3, Open Question 1).
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrAlreadyExists covers unique-constraint collisions outside conversations
// (a duplicate user id or handle, a duplicate message id). Duplicate
// reactions are ignored and push subscription endpoints are upserted, so
// neither returns it.
var ErrAlreadyExists = errors.New("already exists")

// Store is the repository surface for the messaging core. A single
// implementation backs production (SQLiteStore); MockStore backs tests.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByHandle(ctx context.Context, handle string) (*model.User, error)
	ListUsers(ctx context.Context, ids []string) ([]*model.User, error)
	UpdateUserStatus(ctx context.Context, userID string, status model.PresenceStatus, customMessage, customEmoji string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*model.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	RenameConversation(ctx context.Context, conversationID, displayName string) error

	// Messages
	SaveMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*model.Message, error)
	DeleteMessage(ctx context.Context, id string, at time.Time) error

	// Delivery records (§4.4 four-state lifecycle)
	UpsertDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error
	GetDeliveryRecord(ctx context.Context, messageID, recipientID string) (*model.DeliveryRecord, error)
	ListDeliveryRecordsForMessage(ctx context.Context, messageID string) ([]*model.DeliveryRecord, error)
	ListUndeliveredForRecipient(ctx context.Context, recipientID string) ([]*model.DeliveryRecord, error)
	MarkConversationRead(ctx context.Context, conversationID, recipientID string, at time.Time) ([]*model.DeliveryRecord, error)

	// Reactions
	AddReaction(ctx context.Context, r *model.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	ListReactions(ctx context.Context, messageID string) ([]*model.Reaction, error)

	// Offline queue (§4.6 durable per-recipient FIFO)
	EnqueueOffline(ctx context.Context, item *model.OfflineItem) error
	DrainOffline(ctx context.Context, recipientID string, limit int) ([]*model.OfflineItem, error)
	DeleteOfflineItem(ctx context.Context, id string) error
	CountOffline(ctx context.Context, recipientID string) (int, error)
	TrimOldestOffline(ctx context.Context, recipientID string, keep int) error

	// Push subscriptions and preferences (§4.7)
	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, userID string) ([]*model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id string) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error
	RecordPushFailure(ctx context.Context, id string, at time.Time) error
	ListStalePushSubscriptions(ctx context.Context, olderThan time.Time) ([]*model.PushSubscription, error)

	GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error)
	SaveNotificationSettings(ctx context.Context, s *model.NotificationSettings) error

	RecordNotificationSent(ctx context.Context, userID, messageID string, at time.Time) error
	PurgeNotificationHistory(ctx context.Context, olderThan time.Time) (int64, error)

	// Presence history, kept for audit/analytics; live presence lives in
	// internal/presence, not here.
	RecordStatusChange(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error

	// Close releases any resources held by the store.
	Close() error
}
