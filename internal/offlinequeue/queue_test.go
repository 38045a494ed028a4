package offlinequeue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

type recordingDrainer struct {
	mu        sync.Mutex
	delivered []*model.OfflineItem
	sentIDs   []string
}

func (d *recordingDrainer) DeliverOffline(_ context.Context, item *model.OfflineItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, item)
	return nil
}

func (d *recordingDrainer) AdvanceToSent(_ context.Context, messageID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentIDs = append(d.sentIDs, messageID)
	return nil
}

func TestEnqueueDrain_ReplaysInEnqueueOrder(t *testing.T) {
	s := store.NewMockStore()
	q := New(s, Config{}, nil)
	defer q.Close()
	drainer := &recordingDrainer{}
	q.SetDrainer(drainer)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{
			ID:          id,
			RecipientID: "bob",
			EventType:   EventTypeMessage,
			MessageID:   id,
			Payload:     []byte("payload"),
		}))
		_ = i
	}

	require.NoError(t, q.Drain(ctx, "bob", "session-1"))
	require.Len(t, drainer.delivered, 3)
	assert.Equal(t, "m1", drainer.delivered[0].ID)
	assert.Equal(t, "m2", drainer.delivered[1].ID)
	assert.Equal(t, "m3", drainer.delivered[2].ID)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, drainer.sentIDs)

	count, err := s.CountOffline(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, count, "drained items are removed")
}

func TestDrain_DedupesReplayWithinSameSession(t *testing.T) {
	s := store.NewMockStore()
	q := New(s, Config{}, nil)
	defer q.Close()
	drainer := &recordingDrainer{}
	q.SetDrainer(drainer)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{
		ID: "i1", RecipientID: "bob", EventType: EventTypeMessage, MessageID: "m1",
	}))
	require.NoError(t, q.Drain(ctx, "bob", "session-1"))
	require.Len(t, drainer.delivered, 1)

	// Re-enqueue the same message id (simulating a replayed enqueue from a
	// racing producer) and drain again under the same session id: the
	// dedupe cache must suppress the second delivery.
	require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{
		ID: "i1", RecipientID: "bob", EventType: EventTypeMessage, MessageID: "m1",
	}))
	require.NoError(t, q.Drain(ctx, "bob", "session-1"))
	assert.Len(t, drainer.delivered, 1, "same (recipient, session, message) must not redeliver")
}

func TestEnqueue_OverflowEvictsEphemeralBeforeMessages(t *testing.T) {
	s := store.NewMockStore()
	q := New(s, Config{MaxPerRecipient: 2}, nil)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{ID: "e1", RecipientID: "bob", EventType: "typing"}))
	require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{ID: "e2", RecipientID: "bob", EventType: "typing"}))
	// Queue full of ephemeral items; a new ephemeral item evicts the oldest (e1).
	require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{ID: "e3", RecipientID: "bob", EventType: "typing"}))
	count, err := s.CountOffline(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A message arriving at capacity evicts the oldest ephemeral item.
	require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{ID: "m1", RecipientID: "bob", EventType: EventTypeMessage, MessageID: "m1"}))
	count, err = s.CountOffline(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "message eviction keeps the bound")

	drainer := &recordingDrainer{}
	q.SetDrainer(drainer)
	require.NoError(t, q.Drain(ctx, "bob", "session-1"))
	var gotMessage bool
	for _, item := range drainer.delivered {
		if item.ID == "m1" {
			gotMessage = true
		}
	}
	assert.True(t, gotMessage, "message must survive overflow eviction")
}

func TestEnqueue_FullOfMessagesReturnsBackpressure(t *testing.T) {
	s := store.NewMockStore()
	q := New(s, Config{MaxPerRecipient: 1}, nil)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &model.OfflineItem{ID: "m1", RecipientID: "bob", EventType: EventTypeMessage, MessageID: "m1"}))
	err := q.Enqueue(ctx, &model.OfflineItem{ID: "m2", RecipientID: "bob", EventType: EventTypeMessage, MessageID: "m2"})
	assert.ErrorIs(t, err, ErrFull, "a queue full of messages must push back rather than drop")
}
