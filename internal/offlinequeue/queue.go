package offlinequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/chat-core/internal/dedupe"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

// ErrFull is returned by Enqueue when the recipient's queue is at capacity
// and the event is a message, which per §4.6 is never silently dropped —
// the producer must back off instead.
var ErrFull = errors.New("offline queue full")

const (
	// EventTypeMessage marks an item whose producer is the message path;
	// it is exempt from overflow eviction.
	EventTypeMessage = "message"
)

// Config tunes the bound and the replay dedupe window.
type Config struct {
	MaxPerRecipient int
	DedupeTTL       time.Duration
	DedupeMaxSize   int
}

// Drainer is the subset of the Session Gateway the Queue hands replayed
// events to, and the subset of the Delivery Tracker it notifies.
type Drainer interface {
	DeliverOffline(ctx context.Context, item *model.OfflineItem) error
	AdvanceToSent(ctx context.Context, messageID, recipientID string) error
}

// Queue is the Offline Queue (component F).
type Queue struct {
	store   store.Store
	dedupe  *dedupe.Cache
	drainer Drainer
	cfg     Config
	logger  *slog.Logger
}

// New builds a Queue backed by s.
func New(s store.Store, cfg Config, logger *slog.Logger) *Queue {
	if cfg.MaxPerRecipient <= 0 {
		cfg.MaxPerRecipient = 1000
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	if cfg.DedupeMaxSize <= 0 {
		cfg.DedupeMaxSize = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  s,
		dedupe: dedupe.New(cfg.DedupeTTL, cfg.DedupeMaxSize),
		cfg:    cfg,
		logger: logger.With("component", "offlinequeue"),
	}
}

// Close stops the background dedupe cleanup goroutine.
func (q *Queue) Close() {
	q.dedupe.Close()
}

// Enqueue durably queues an event for a recipient with no live session. On
// overflow, the oldest non-message item is evicted first; if the queue is
// full of messages, Enqueue returns ErrFull so the caller can apply
// backpressure (§4.6 bounds).
func (q *Queue) Enqueue(ctx context.Context, item *model.OfflineItem) error {
	count, err := q.store.CountOffline(ctx, item.RecipientID)
	if err != nil {
		return fmt.Errorf("counting offline queue: %w", err)
	}
	if count >= q.cfg.MaxPerRecipient {
		evicted, err := q.evictOldestNonMessage(ctx, item.RecipientID, count)
		if err != nil {
			return err
		}
		if !evicted {
			if item.EventType == EventTypeMessage {
				return ErrFull
			}
			// The queue holds only messages: drop the incoming ephemeral
			// item rather than evict a message, per "messages are never dropped".
			q.logger.Debug("dropping ephemeral offline item on overflow",
				"recipient", item.RecipientID, "event_type", item.EventType)
			return nil
		}
	}

	if err := q.store.EnqueueOffline(ctx, item); err != nil {
		return fmt.Errorf("enqueueing offline item: %w", err)
	}
	return nil
}

// evictOldestNonMessage drops the single oldest non-message item for
// recipientID to make room for an incoming item, given the recipient's
// current item count. Returns false if the queue holds nothing but messages,
// in which case nothing is deleted.
func (q *Queue) evictOldestNonMessage(ctx context.Context, recipientID string, count int) (bool, error) {
	items, err := q.store.DrainOffline(ctx, recipientID, count)
	if err != nil {
		return false, fmt.Errorf("peeking offline queue for eviction: %w", err)
	}
	// Items come back oldest first; the first non-message one is the victim.
	for _, item := range items {
		if item.EventType == EventTypeMessage {
			continue
		}
		if err := q.store.DeleteOfflineItem(ctx, item.ID); err != nil {
			return false, fmt.Errorf("evicting oldest offline item: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// Drain replays every queued event for recipientID in enqueue order to
// drainer, requesting a sent transition for each message-kind item, then
// removes replayed items. Called whenever a session opens for the user.
func (q *Queue) Drain(ctx context.Context, recipientID, sessionID string) error {
	const batchSize = 200
	for {
		items, err := q.store.DrainOffline(ctx, recipientID, batchSize)
		if err != nil {
			return fmt.Errorf("draining offline queue: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		for _, item := range items {
			if item.MessageID != "" {
				dedupeKey := recipientID + "\x00" + sessionID + "\x00" + item.MessageID
				if q.dedupe.CheckAndMark(dedupeKey) {
					// Already handed to this recipient/session pair: drop
					// without redelivering, §4.6.1 at-most-once belt-and-
					// suspenders on top of the Tracker's idempotent states.
					if err := q.store.DeleteOfflineItem(ctx, item.ID); err != nil {
						q.logger.Error("failed deleting duplicate offline item", "error", err, "item_id", item.ID)
					}
					continue
				}
			}

			// q.drainer is set via SetDrainer before Drain is called;
			// guard against a nil wiring mistake rather than panic deep in
			// a goroutine.
			if q.drainer == nil {
				q.logger.Warn("offline queue drained with no drainer wired", "recipient", recipientID)
				continue
			}
			if err := q.drainer.DeliverOffline(ctx, item); err != nil {
				q.logger.Error("failed delivering offline item", "error", err, "item_id", item.ID)
				continue
			}
			if item.MessageID != "" {
				if err := q.drainer.AdvanceToSent(ctx, item.MessageID, recipientID); err != nil {
					q.logger.Error("failed advancing drained message to sent", "error", err, "message_id", item.MessageID)
				}
			}
			if err := q.store.DeleteOfflineItem(ctx, item.ID); err != nil {
				q.logger.Error("failed deleting drained offline item", "error", err, "item_id", item.ID)
			}
		}

		if len(items) < batchSize {
			return nil
		}
	}
}

// SetDrainer wires the Gateway/Tracker collaborator used by Drain. Kept as
// a setter rather than a constructor argument so the Queue can be built
// before the Gateway that depends on it.
func (q *Queue) SetDrainer(d Drainer) {
	q.drainer = d
}
