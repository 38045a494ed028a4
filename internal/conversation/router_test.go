package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-core/internal/cache"
	"github.com/2389/chat-core/internal/delivery"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/offlinequeue"
	"github.com/2389/chat-core/internal/push"
	"github.com/2389/chat-core/internal/store"
)

type fakePresence struct {
	mu       sync.Mutex
	local    map[string][]string
	remote   map[string]string
}

func newFakePresence() *fakePresence {
	return &fakePresence{local: make(map[string][]string), remote: make(map[string]string)}
}

func (f *fakePresence) SessionsFor(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local[userID]
}

func (f *fakePresence) RemoteInstance(ctx context.Context, userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.remote[userID]
	return id, ok
}

type fakeSessions struct {
	mu   sync.Mutex
	sent map[string][][]byte
	fail map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sent: make(map[string][][]byte), fail: make(map[string]bool)}
}

func (f *fakeSessions) SendToSession(ctx context.Context, sessionID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[sessionID] {
		return assertErr("send failed")
	}
	f.sent[sessionID] = append(f.sent[sessionID], payload)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeTransport struct{}

func (fakeTransport) Send(ctx context.Context, sub *model.PushSubscription, payload []byte) error { return nil }

func newTestRouter(t *testing.T, presence PresenceLookup, sessions SessionDispatcher, bus cache.Cache) (*Router, store.Store) {
	t.Helper()
	s := store.NewMockStore()
	tracker := delivery.New(s, nil, nil)
	offline := offlinequeue.New(s, offlinequeue.Config{}, nil)
	dispatcher := push.New(s, fakeTransport{}, nil, nil, push.Config{})

	r := New(Config{
		Store:    s,
		Presence: presence,
		Sessions: sessions,
		Bus:      bus,
		Tracker:  tracker,
		Offline:  offline,
		Push:     dispatcher,
	})
	return r, s
}

func seedConversation(t *testing.T, s store.Store, id string, participants []string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.CreateConversation(context.Background(), &model.Conversation{
		ID: id, Kind: model.ConversationGroup, Participants: participants,
		CreatedAt: now, LastActivityAt: now,
	}))
}

func TestDispatch_LocalSessionReceivesEventAndAdvancesToSent(t *testing.T) {
	presence := newFakePresence()
	presence.local["u-bob"] = []string{"sess-bob-1"}
	sessions := newFakeSessions()

	r, s := newTestRouter(t, presence, sessions, nil)
	seedConversation(t, s, "c-1", []string{"u-alice", "u-bob"})

	ctx := context.Background()
	msg := &model.Message{ID: "m-1", ConversationID: "c-1", SenderID: "u-alice", Payload: "hi", CreatedAt: time.Now()}
	require.NoError(t, s.SaveMessage(ctx, msg))

	err := r.Dispatch(ctx, Event{
		Kind: push.EventMessage, ConversationID: "c-1", OriginUserID: "u-alice",
		Payload: []byte("frame"), Message: msg,
	})
	require.NoError(t, err)

	assert.Len(t, sessions.sent["sess-bob-1"], 1)

	rec, err := s.GetDeliveryRecord(ctx, "m-1", "u-bob")
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, rec.State)
}

func TestDispatch_ExcludesOrigin(t *testing.T) {
	presence := newFakePresence()
	presence.local["u-alice"] = []string{"sess-alice-1"}
	sessions := newFakeSessions()

	r, s := newTestRouter(t, presence, sessions, nil)
	seedConversation(t, s, "c-1", []string{"u-alice", "u-bob"})

	err := r.Dispatch(context.Background(), Event{
		Kind: push.EventTyping, ConversationID: "c-1", OriginUserID: "u-alice",
		Payload: []byte("typing"),
	})
	require.NoError(t, err)
	assert.Empty(t, sessions.sent["sess-alice-1"])
}

func TestDispatch_RemoteInstancePublishesOnBus(t *testing.T) {
	presence := newFakePresence()
	presence.remote["u-bob"] = "instance-2"
	sessions := newFakeSessions()
	bus := cache.NewMemoryCache()

	r, s := newTestRouter(t, presence, sessions, bus)
	seedConversation(t, s, "c-1", []string{"u-alice", "u-bob"})

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "instance:instance-2")
	require.NoError(t, err)
	defer sub.Close()

	err = r.Dispatch(ctx, Event{
		Kind: push.EventTyping, ConversationID: "c-1", OriginUserID: "u-alice",
		Payload: []byte("typing-frame"),
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, []byte("typing-frame"), msg)
	case <-time.After(time.Second):
		t.Fatal("expected message on instance channel")
	}
}

func TestDispatch_NoSessionEnqueuesOfflineAndAdvancesToSent(t *testing.T) {
	presence := newFakePresence()
	sessions := newFakeSessions()

	r, s := newTestRouter(t, presence, sessions, nil)
	seedConversation(t, s, "c-1", []string{"u-alice", "u-bob"})

	ctx := context.Background()
	msg := &model.Message{ID: "m-1", ConversationID: "c-1", SenderID: "u-alice", Payload: "hi", CreatedAt: time.Now()}
	require.NoError(t, s.SaveMessage(ctx, msg))
	require.NoError(t, s.SaveNotificationSettings(ctx, &model.NotificationSettings{UserID: "u-bob", Enabled: true}))

	err := r.Dispatch(ctx, Event{
		Kind: push.EventMessage, ConversationID: "c-1", OriginUserID: "u-alice",
		Payload: []byte("frame"), Message: msg, PushBody: "hi",
	})
	require.NoError(t, err)

	count, err := s.CountOffline(ctx, "u-bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec, err := s.GetDeliveryRecord(ctx, "m-1", "u-bob")
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, rec.State)
}

func TestAddParticipant_InvalidatesAndUpdatesCache(t *testing.T) {
	presence := newFakePresence()
	sessions := newFakeSessions()
	r, s := newTestRouter(t, presence, sessions, nil)
	seedConversation(t, s, "c-1", []string{"u-alice"})

	ctx := context.Background()
	_, err := r.participants(ctx, "c-1")
	require.NoError(t, err)

	require.NoError(t, r.AddParticipant(ctx, "c-1", "u-bob"))

	got, err := r.participants(ctx, "c-1")
	require.NoError(t, err)
	assert.Contains(t, got, "u-bob")
}

func TestCreateDirect_IsIdempotent(t *testing.T) {
	presence := newFakePresence()
	sessions := newFakeSessions()
	r, _ := newTestRouter(t, presence, sessions, nil)

	ctx := context.Background()
	first, err := r.CreateDirect(ctx, "u-a", "u-b")
	require.NoError(t, err)

	second, err := r.CreateDirect(ctx, "u-b", "u-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
