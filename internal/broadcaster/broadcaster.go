// ABOUTME: In-memory per-key fan-out broadcaster, the local half of conversation dispatch.
// ABOUTME: Kept close to the teacher's EventBroadcaster; generalized from *store.LedgerEvent to a generic envelope.

package broadcaster

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Envelope is the generic wire payload the broadcaster fans out. Callers
// (the Conversation Router, the Presence Registry) attach whatever shape
// they need via Kind/Payload.
type Envelope struct {
	Kind    string
	Payload any

	// MessageID is non-empty when Payload is a message-kind frame; the
	// writer pump uses it to advance the Delivery Tracker to `delivered`
	// once the frame has actually been written to the live socket, rather
	// than merely accepted onto this channel (§4.4 Open Question #2).
	MessageID string
}

// Broadcaster provides in-memory pub/sub keyed by an arbitrary string (the
// Session Gateway keys it by session id). Subscribers register for a key and receive
// envelopes as they are published; this is the local-process half of the
// Conversation Router's dispatch fan-out (§4.3), with cross-process delivery
// handled separately via internal/cache's pub/sub bus.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Envelope
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for the default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Envelope),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given key. The returned
// channel receives envelopes until ctx is cancelled or Unsubscribe is called.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) (<-chan *Envelope, string) {
	subID := uuid.New().String()
	ch := make(chan *Envelope, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan *Envelope)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish sends an envelope to all subscribers of key, skipping excludeSubID
// if non-empty. Non-blocking: a full subscriber channel drops the envelope
// rather than stalling the publisher, matching the Conversation Router's
// "dispatch must not block on a slow recipient" requirement.
func (b *Broadcaster) Publish(key string, env *Envelope, excludeSubID string) {
	b.mu.RLock()
	subs, ok := b.subscribers[key]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	targets := make([]chan *Envelope, 0, len(subs))
	for id, ch := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- env:
		default:
			b.logger.Debug("dropped envelope for slow subscriber", "key", key, "kind", env.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}
	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// SubscriberCount returns the number of live subscribers for key (used by
// the Session Gateway to check that a session id has a live subscriber on
// this process without leaking the subscriber map).
func (b *Broadcaster) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.logger.Debug("broadcaster closed")
}
