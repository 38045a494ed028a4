package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	err   error // returned on every call unless errSequence is set
	seq   []error
}

func (f *fakeTransport) Send(_ context.Context, _ *model.PushSubscription, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.seq) {
		return f.seq[idx]
	}
	return f.err
}

type fakeMetrics struct {
	mu      sync.Mutex
	results []bool
}

func (m *fakeMetrics) RecordPushAttempt(success bool, _ string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, success)
}

func seedSubscriptionAndUser(t *testing.T, s store.Store, userID string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &model.User{ID: userID, Handle: userID}))
	require.NoError(t, s.SavePushSubscription(context.Background(), &model.PushSubscription{
		ID: userID + "-sub1", UserID: userID, Endpoint: "https://push.example/ep1",
		P256dhKey: "k", AuthKey: "a",
	}))
}

func TestDispatch_TypingIsNeverPushed(t *testing.T) {
	s := store.NewMockStore()
	seedSubscriptionAndUser(t, s, "bob")
	transport := &fakeTransport{}
	d := New(s, transport, nil, nil, Config{})

	require.NoError(t, d.Dispatch(context.Background(), Intent{Kind: EventTyping, RecipientID: "bob"}))
	assert.Zero(t, transport.calls)
}

func TestDispatch_MessageSendsToAllSubscriptions(t *testing.T) {
	s := store.NewMockStore()
	seedSubscriptionAndUser(t, s, "bob")
	require.NoError(t, s.SavePushSubscription(context.Background(), &model.PushSubscription{
		ID: "bob-sub2", UserID: "bob", Endpoint: "https://push.example/ep2", P256dhKey: "k", AuthKey: "a",
	}))
	transport := &fakeTransport{}
	metrics := &fakeMetrics{}
	d := New(s, transport, metrics, nil, Config{})

	require.NoError(t, d.Dispatch(context.Background(), Intent{
		Kind: EventMessage, RecipientID: "bob", ConversationID: "c1", MessageID: "m1", At: time.Now(),
	}))
	assert.Equal(t, 2, transport.calls)
	assert.Equal(t, []bool{true, true}, metrics.results)
}

func TestDispatch_DisabledSettingsSuppressesSend(t *testing.T) {
	s := store.NewMockStore()
	seedSubscriptionAndUser(t, s, "bob")
	require.NoError(t, s.SaveNotificationSettings(context.Background(), &model.NotificationSettings{UserID: "bob", Enabled: false}))
	transport := &fakeTransport{}
	d := New(s, transport, nil, nil, Config{})

	require.NoError(t, d.Dispatch(context.Background(), Intent{Kind: EventMessage, RecipientID: "bob", At: time.Now()}))
	assert.Zero(t, transport.calls)
}

func TestDispatch_MutedConversationSuppressesSend(t *testing.T) {
	s := store.NewMockStore()
	seedSubscriptionAndUser(t, s, "bob")
	require.NoError(t, s.SaveNotificationSettings(context.Background(), &model.NotificationSettings{
		UserID: "bob", Enabled: true, MutedConvos: map[string]bool{"c1": true},
	}))
	transport := &fakeTransport{}
	d := New(s, transport, nil, nil, Config{})

	require.NoError(t, d.Dispatch(context.Background(), Intent{Kind: EventMessage, RecipientID: "bob", ConversationID: "c1", At: time.Now()}))
	assert.Zero(t, transport.calls)
}

func TestDispatch_QuietHoursSuppressUnlessUrgent(t *testing.T) {
	s := store.NewMockStore()
	seedSubscriptionAndUser(t, s, "bob")
	require.NoError(t, s.SaveNotificationSettings(context.Background(), &model.NotificationSettings{
		UserID: "bob", Enabled: true, QuietHoursStart: "22:00", QuietHoursEnd: "07:00",
	}))
	transport := &fakeTransport{}
	d := New(s, transport, nil, nil, Config{})

	quietTime := time.Date(2026, 1, 1, 23, 0, 0, 0, time.Local)
	require.NoError(t, d.Dispatch(context.Background(), Intent{Kind: EventMessage, RecipientID: "bob", At: quietTime}))
	assert.Zero(t, transport.calls, "non-urgent intent during quiet hours must be suppressed")

	require.NoError(t, d.Dispatch(context.Background(), Intent{Kind: EventMessage, RecipientID: "bob", At: quietTime, Urgent: true}))
	assert.Equal(t, 1, transport.calls, "urgent intents bypass quiet hours")
}

func TestDispatch_PermanentFailureEvictsSubscription(t *testing.T) {
	s := store.NewMockStore()
	seedSubscriptionAndUser(t, s, "bob")
	transport := &fakeTransport{err: ErrSubscriptionGone}
	d := New(s, transport, nil, nil, Config{})

	require.NoError(t, d.Dispatch(context.Background(), Intent{Kind: EventMessage, RecipientID: "bob", At: time.Now()}))
	subs, err := s.ListPushSubscriptions(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, subs, "a gone subscription must be evicted")
}

func TestDispatch_TransientFailureRetriesThenGivesUp(t *testing.T) {
	s := store.NewMockStore()
	seedSubscriptionAndUser(t, s, "bob")
	transport := &fakeTransport{err: assertErr{}}
	d := New(s, transport, nil, nil, Config{MaxRetries: 2, BaseBackoff: time.Millisecond})

	require.NoError(t, d.Dispatch(context.Background(), Intent{Kind: EventMessage, RecipientID: "bob", At: time.Now()}))
	assert.Equal(t, 3, transport.calls, "one initial attempt plus MaxRetries retries")

	subs, err := s.ListPushSubscriptions(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, subs, 1, "a transient failure does not evict the subscription")
}

type assertErr struct{}

func (assertErr) Error() string { return "transient failure" }
