// ABOUTME: Domain types shared across the messaging core.
// ABOUTME: Plain structs only; persistence and transport concerns live in their own packages.

package model

import "time"

// PresenceStatus is the user-visible presence state of a User.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceCustom  PresenceStatus = "custom"
	PresenceOffline PresenceStatus = "offline"
	PresenceUnknown PresenceStatus = "unknown"
)

// User is a registered account. Registration and credential verification
// are external collaborators; the core only ever sees an already-minted
// principal ID.
type User struct {
	ID            string
	Handle        string
	DisplayName   string
	PublicKey     []byte
	PasswordHash  []byte // bcrypt hash; set by the external registration/login REST layer, opaque to the core
	Status        PresenceStatus
	CustomMessage string
	CustomEmoji   string
	CreatedAt     time.Time
}

// ConversationKind distinguishes a two-party conversation from a group.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation is a named or unnamed channel between participants.
type Conversation struct {
	ID             string
	Kind           ConversationKind
	DisplayName    string
	Participants   []string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Message is an immutable unit of conversation content.
type Message struct {
	ID                  string
	ConversationID      string
	SenderID            string
	Payload             string
	MediaRef            string
	ParentMessageID     string
	ReadReceiptsEnabled bool
	CreatedAt           time.Time
	DeletedAt           *time.Time
}

// DeliveryState is one point in the four-state delivery lifecycle.
type DeliveryState string

const (
	DeliveryQueued    DeliveryState = "queued"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// rank gives the total order used to enforce monotonic transitions.
var deliveryRank = map[DeliveryState]int{
	DeliveryQueued:    0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

// Precedes reports whether state s comes strictly before other in the
// delivery lifecycle.
func (s DeliveryState) Precedes(other DeliveryState) bool {
	return deliveryRank[s] < deliveryRank[other]
}

// DeliveryRecord tracks one (message, recipient) pair's lifecycle.
type DeliveryRecord struct {
	MessageID      string
	ConversationID string
	RecipientID    string
	SenderID       string
	State          DeliveryState
	QueuedAt       time.Time
	SentAt         *time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// Reaction is a (message, user, emoji) triple.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// PushSubscription is one of a user's registered web-push endpoints.
type PushSubscription struct {
	ID          string
	UserID      string
	Endpoint    string
	P256dhKey   string
	AuthKey     string
	UserAgent   string
	CreatedAt   time.Time
	LastFailAt  *time.Time
}

// NotificationSettings are a user's per-account push preferences.
type NotificationSettings struct {
	UserID          string
	Enabled         bool
	QuietHoursStart string // "HH:MM" local, empty disables quiet hours
	QuietHoursEnd   string
	MutedConvos     map[string]bool
}

// OfflineItem is one envelope queued for a recipient who had no live
// session at dispatch time.
type OfflineItem struct {
	ID             string
	RecipientID    string
	ConversationID string
	EventType      string
	Payload        []byte
	MessageID      string // non-empty when EventType == "message"
	EnqueuedAt     time.Time
}
