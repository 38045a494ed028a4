// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/chat-core/internal/model"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu sync.RWMutex

	usersByID     map[string]*model.User
	usersByHandle map[string]string // handle -> user ID

	conversations   map[string]*model.Conversation
	directIndex     map[string]string // directKey -> conversation ID
	participants    map[string]map[string]bool // conversationID -> set(userID)
	userConvOrder   []string                    // insertion order of conversation IDs, for stable iteration

	messages map[string]*model.Message

	delivery map[string]*model.DeliveryRecord // "messageID\x00recipientID" -> record

	reactions map[string]*model.Reaction // "messageID\x00userID\x00emoji" -> reaction

	offlineQueue map[string][]*model.OfflineItem // recipientID -> FIFO slice

	pushSubsByID       map[string]*model.PushSubscription
	pushSubsByEndpoint map[string]string // endpoint -> subscription ID

	notificationSettings map[string]*model.NotificationSettings
	notificationHistory  []notificationHistoryEntry

	statusHistory []statusHistoryEntry
}

type notificationHistoryEntry struct {
	userID    string
	messageID string
	sentAt    time.Time
}

type statusHistoryEntry struct {
	userID string
	status model.PresenceStatus
	at     time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		usersByID:            make(map[string]*model.User),
		usersByHandle:        make(map[string]string),
		conversations:        make(map[string]*model.Conversation),
		directIndex:          make(map[string]string),
		participants:         make(map[string]map[string]bool),
		messages:             make(map[string]*model.Message),
		delivery:             make(map[string]*model.DeliveryRecord),
		reactions:            make(map[string]*model.Reaction),
		offlineQueue:         make(map[string][]*model.OfflineItem),
		pushSubsByID:         make(map[string]*model.PushSubscription),
		pushSubsByEndpoint:   make(map[string]string),
		notificationSettings: make(map[string]*model.NotificationSettings),
	}
}

// Close is a no-op for the in-memory store.
func (m *MockStore) Close() error { return nil }

func cloneUser(u *model.User) *model.User {
	cp := *u
	return &cp
}

// ---- Users ----

func (m *MockStore) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByID[user.ID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := m.usersByHandle[user.Handle]; exists {
		return ErrAlreadyExists
	}

	cp := cloneUser(user)
	m.usersByID[user.ID] = cp
	m.usersByHandle[user.Handle] = user.ID
	return nil
}

func (m *MockStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MockStore) GetUserByHandle(ctx context.Context, handle string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByHandle[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(m.usersByID[id]), nil
}

func (m *MockStore) ListUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.User
	for _, id := range ids {
		if u, ok := m.usersByID[id]; ok {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m *MockStore) UpdateUserStatus(ctx context.Context, userID string, status model.PresenceStatus, customMessage, customEmoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usersByID[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.CustomMessage = customMessage
	u.CustomEmoji = customEmoji
	return nil
}

// ---- Conversations ----

func cloneConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}

func (m *MockStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}

	var dKey string
	if conv.Kind == model.ConversationDirect && len(conv.Participants) == 2 {
		dKey = directKey(conv.Participants[0], conv.Participants[1])
		if _, exists := m.directIndex[dKey]; exists {
			return ErrDuplicateConversation
		}
	}

	cp := cloneConversation(conv)
	m.conversations[conv.ID] = cp
	if dKey != "" {
		m.directIndex[dKey] = conv.ID
	}

	set := make(map[string]bool, len(conv.Participants))
	for _, uid := range conv.Participants {
		set[uid] = true
	}
	m.participants[conv.ID] = set
	m.userConvOrder = append(m.userConvOrder, conv.ID)
	return nil
}

func (m *MockStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (m *MockStore) GetDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.directIndex[directKey(userA, userB)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(m.conversations[id]), nil
}

func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Conversation
	for _, id := range m.userConvOrder {
		if m.participants[id][userID] {
			out = append(out, cloneConversation(m.conversations[id]))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (m *MockStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if m.participants[conversationID][userID] {
		return nil
	}
	m.participants[conversationID][userID] = true
	conv.Participants = append(conv.Participants, userID)
	return nil
}

func (m *MockStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	delete(m.participants[conversationID], userID)
	filtered := conv.Participants[:0:0]
	for _, id := range conv.Participants {
		if id != userID {
			filtered = append(filtered, id)
		}
	}
	conv.Participants = filtered
	return nil
}

func (m *MockStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.LastActivityAt = at
	return nil
}

func (m *MockStore) RenameConversation(ctx context.Context, conversationID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if conv.Kind != model.ConversationGroup {
		return ErrNotFound
	}
	conv.DisplayName = displayName
	return nil
}

// ---- Messages ----

func cloneMessage(msg *model.Message) *model.Message {
	cp := *msg
	if msg.DeletedAt != nil {
		t := *msg.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

func (m *MockStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; exists {
		return ErrAlreadyExists
	}
	m.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (m *MockStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (m *MockStore) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var matched []*model.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.CreatedAt.Before(before) {
			matched = append(matched, msg)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*model.Message, len(matched))
	for i, msg := range matched {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

func (m *MockStore) DeleteMessage(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	if msg.DeletedAt != nil {
		return ErrNotFound
	}
	t := at
	msg.DeletedAt = &t
	return nil
}

// ---- Delivery records ----

func deliveryKey(messageID, recipientID string) string {
	return messageID + "\x00" + recipientID
}

func cloneDeliveryRecord(rec *model.DeliveryRecord) *model.DeliveryRecord {
	cp := *rec
	if rec.SentAt != nil {
		t := *rec.SentAt
		cp.SentAt = &t
	}
	if rec.DeliveredAt != nil {
		t := *rec.DeliveredAt
		cp.DeliveredAt = &t
	}
	if rec.ReadAt != nil {
		t := *rec.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}

func (m *MockStore) UpsertDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.delivery[deliveryKey(rec.MessageID, rec.RecipientID)] = cloneDeliveryRecord(rec)
	return nil
}

func (m *MockStore) GetDeliveryRecord(ctx context.Context, messageID, recipientID string) (*model.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.delivery[deliveryKey(messageID, recipientID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDeliveryRecord(rec), nil
}

func (m *MockStore) ListDeliveryRecordsForMessage(ctx context.Context, messageID string) ([]*model.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.DeliveryRecord
	for _, rec := range m.delivery {
		if rec.MessageID == messageID {
			out = append(out, cloneDeliveryRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (m *MockStore) ListUndeliveredForRecipient(ctx context.Context, recipientID string) ([]*model.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.DeliveryRecord
	for _, rec := range m.delivery {
		if rec.RecipientID == recipientID && (rec.State == model.DeliveryQueued || rec.State == model.DeliverySent) {
			out = append(out, cloneDeliveryRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

func (m *MockStore) MarkConversationRead(ctx context.Context, conversationID, recipientID string, at time.Time) ([]*model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var promoted []*model.DeliveryRecord
	for _, rec := range m.delivery {
		if rec.ConversationID != conversationID || rec.RecipientID != recipientID {
			continue
		}
		if rec.State == model.DeliveryRead {
			continue
		}
		rec.State = model.DeliveryRead
		t := at
		rec.ReadAt = &t
		if rec.SentAt == nil {
			rec.SentAt = &t
		}
		if rec.DeliveredAt == nil {
			rec.DeliveredAt = &t
		}
		promoted = append(promoted, cloneDeliveryRecord(rec))
	}
	sort.Slice(promoted, func(i, j int) bool { return promoted[i].MessageID < promoted[j].MessageID })
	return promoted, nil
}

// ---- Reactions ----

func reactionKey(messageID, userID, emoji string) string {
	return messageID + "\x00" + userID + "\x00" + emoji
}

func (m *MockStore) AddReaction(ctx context.Context, r *model.Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reactionKey(r.MessageID, r.UserID, r.Emoji)
	if _, exists := m.reactions[key]; exists {
		return nil
	}
	cp := *r
	m.reactions[key] = &cp
	return nil
}

func (m *MockStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reactions, reactionKey(messageID, userID, emoji))
	return nil
}

func (m *MockStore) ListReactions(ctx context.Context, messageID string) ([]*model.Reaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Reaction
	for _, r := range m.reactions {
		if r.MessageID == messageID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out, nil
}

// ---- Offline queue ----

func cloneOfflineItem(item *model.OfflineItem) *model.OfflineItem {
	cp := *item
	cp.Payload = append([]byte(nil), item.Payload...)
	return &cp
}

func (m *MockStore) EnqueueOffline(ctx context.Context, item *model.OfflineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offlineQueue[item.RecipientID] = append(m.offlineQueue[item.RecipientID], cloneOfflineItem(item))
	return nil
}

func (m *MockStore) DrainOffline(ctx context.Context, recipientID string, limit int) ([]*model.OfflineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}
	items := m.offlineQueue[recipientID]
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]*model.OfflineItem, len(items))
	for i, item := range items {
		out[i] = cloneOfflineItem(item)
	}
	return out, nil
}

func (m *MockStore) DeleteOfflineItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for recipientID, items := range m.offlineQueue {
		for i, item := range items {
			if item.ID == id {
				m.offlineQueue[recipientID] = append(items[:i:i], items[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (m *MockStore) CountOffline(ctx context.Context, recipientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.offlineQueue[recipientID]), nil
}

func (m *MockStore) TrimOldestOffline(ctx context.Context, recipientID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	items := m.offlineQueue[recipientID]
	if len(items) <= keep {
		return nil
	}
	m.offlineQueue[recipientID] = items[len(items)-keep:]
	return nil
}

// ---- Push subscriptions and preferences ----

func clonePushSubscription(sub *model.PushSubscription) *model.PushSubscription {
	cp := *sub
	if sub.LastFailAt != nil {
		t := *sub.LastFailAt
		cp.LastFailAt = &t
	}
	return &cp
}

func (m *MockStore) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.pushSubsByEndpoint[sub.Endpoint]; ok && existingID != sub.ID {
		existing := m.pushSubsByID[existingID]
		existing.P256dhKey = sub.P256dhKey
		existing.AuthKey = sub.AuthKey
		existing.UserAgent = sub.UserAgent
		return nil
	}

	cp := clonePushSubscription(sub)
	m.pushSubsByID[sub.ID] = cp
	m.pushSubsByEndpoint[sub.Endpoint] = sub.ID
	return nil
}

func (m *MockStore) ListPushSubscriptions(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.PushSubscription
	for _, sub := range m.pushSubsByID {
		if sub.UserID == userID {
			out = append(out, clonePushSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) DeletePushSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.pushSubsByID[id]
	if !ok {
		return nil
	}
	delete(m.pushSubsByEndpoint, sub.Endpoint)
	delete(m.pushSubsByID, id)
	return nil
}

func (m *MockStore) DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.pushSubsByEndpoint[endpoint]
	if !ok {
		return nil
	}
	delete(m.pushSubsByID, id)
	delete(m.pushSubsByEndpoint, endpoint)
	return nil
}

func (m *MockStore) RecordPushFailure(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.pushSubsByID[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	sub.LastFailAt = &t
	return nil
}

func (m *MockStore) ListStalePushSubscriptions(ctx context.Context, olderThan time.Time) ([]*model.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.PushSubscription
	for _, sub := range m.pushSubsByID {
		if sub.LastFailAt != nil && sub.LastFailAt.Before(olderThan) {
			out = append(out, clonePushSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneNotificationSettings(s *model.NotificationSettings) *model.NotificationSettings {
	cp := *s
	cp.MutedConvos = make(map[string]bool, len(s.MutedConvos))
	for k, v := range s.MutedConvos {
		cp.MutedConvos[k] = v
	}
	return &cp
}

func (m *MockStore) GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.notificationSettings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNotificationSettings(s), nil
}

func (m *MockStore) SaveNotificationSettings(ctx context.Context, s *model.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notificationSettings[s.UserID] = cloneNotificationSettings(s)
	return nil
}

func (m *MockStore) RecordNotificationSent(ctx context.Context, userID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notificationHistory = append(m.notificationHistory, notificationHistoryEntry{userID, messageID, at})
	return nil
}

func (m *MockStore) PurgeNotificationHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.notificationHistory[:0:0]
	var purged int64
	for _, entry := range m.notificationHistory {
		if entry.sentAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	m.notificationHistory = kept
	return purged, nil
}

// ---- Presence history ----

func (m *MockStore) RecordStatusChange(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statusHistory = append(m.statusHistory, statusHistoryEntry{userID, status, at})
	return nil
}
