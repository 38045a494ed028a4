package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

// Emitter delivers delivery-lifecycle events to the sender's sessions. The
// Session Gateway implements this.
type Emitter interface {
	EmitMessageStatus(ctx context.Context, rec *model.DeliveryRecord)
	EmitMessageRead(ctx context.Context, senderID, conversationID string, messageIDs []string, at time.Time)
}

// noopEmitter discards events; used when no Emitter is wired (tests).
type noopEmitter struct{}

func (noopEmitter) EmitMessageStatus(context.Context, *model.DeliveryRecord)             {}
func (noopEmitter) EmitMessageRead(context.Context, string, string, []string, time.Time) {}

// Tracker is the Delivery Tracker (component D).
type Tracker struct {
	store   store.Store
	emitter Emitter
	logger  *slog.Logger
}

// New builds a Tracker. emitter may be nil to discard status events.
func New(s store.Store, emitter Emitter, logger *slog.Logger) *Tracker {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: s, emitter: emitter, logger: logger.With("component", "delivery")}
}

// CreateQueued creates the initial queued record for a (message, recipient)
// pair. Called by the Conversation Router as part of dispatch step 3.
func (t *Tracker) CreateQueued(ctx context.Context, msg *model.Message, recipientID string) error {
	rec := &model.DeliveryRecord{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		RecipientID:    recipientID,
		SenderID:       msg.SenderID,
		State:          model.DeliveryQueued,
		QueuedAt:       time.Now(),
	}
	if err := t.store.UpsertDeliveryRecord(ctx, rec); err != nil {
		return fmt.Errorf("creating queued delivery record: %w", err)
	}
	t.emitter.EmitMessageStatus(ctx, rec)
	return nil
}

// AdvanceToSent fires when the Gateway has written the outbound frame to the
// recipient's transport, or when the Offline Queue accepts it — whichever
// happens first (§4.4 queued -> sent).
func (t *Tracker) AdvanceToSent(ctx context.Context, messageID, recipientID string) error {
	return t.advance(ctx, messageID, recipientID, model.DeliverySent)
}

// AdvanceToDelivered fires on gateway-write-confirms-delivery (Open Question
// #2, resolved in favor of this semantics over client-ack; see DESIGN.md).
func (t *Tracker) AdvanceToDelivered(ctx context.Context, messageID, recipientID string) error {
	return t.advance(ctx, messageID, recipientID, model.DeliveryDelivered)
}

// RecordReadReceipt handles a single read-receipt(messageId) event. The
// upstream message-read emission is suppressed when the message's sender
// disabled read receipts, though the state is still recorded internally.
func (t *Tracker) RecordReadReceipt(ctx context.Context, messageID, recipientID string) error {
	msg, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("looking up message for read receipt: %w", err)
	}

	rec, changed, err := t.advanceRecord(ctx, messageID, recipientID, model.DeliveryRead)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if msg.ReadReceiptsEnabled {
		t.emitter.EmitMessageRead(ctx, msg.SenderID, msg.ConversationID, []string{messageID}, *rec.ReadAt)
	}
	return nil
}

// MarkConversationRead promotes every message in conversationID addressed to
// recipientID with state <= delivered, up to the conversation's last-activity
// watermark, and emits one coalesced message-read event per sender rather
// than one per message (§4.4).
func (t *Tracker) MarkConversationRead(ctx context.Context, conversationID, recipientID string) error {
	at := time.Now()
	promoted, err := t.store.MarkConversationRead(ctx, conversationID, recipientID, at)
	if err != nil {
		return fmt.Errorf("marking conversation read: %w", err)
	}
	if len(promoted) == 0 {
		return nil
	}

	bySender := make(map[string][]string)
	enabledBySender := make(map[string]bool)
	for _, rec := range promoted {
		t.emitter.EmitMessageStatus(ctx, rec)
		bySender[rec.SenderID] = append(bySender[rec.SenderID], rec.MessageID)
		msg, err := t.store.GetMessage(ctx, rec.MessageID)
		if err == nil {
			enabledBySender[rec.SenderID] = enabledBySender[rec.SenderID] || msg.ReadReceiptsEnabled
		}
	}
	for senderID, messageIDs := range bySender {
		if !enabledBySender[senderID] {
			continue
		}
		t.emitter.EmitMessageRead(ctx, senderID, conversationID, messageIDs, at)
	}
	return nil
}

// advance is the shared path for queued->sent and sent->delivered, both of
// which always notify via EmitMessageStatus (unlike read, which has a
// privacy gate).
func (t *Tracker) advance(ctx context.Context, messageID, recipientID string, newState model.DeliveryState) error {
	rec, changed, err := t.advanceRecord(ctx, messageID, recipientID, newState)
	if err != nil {
		return err
	}
	if changed {
		t.emitter.EmitMessageStatus(ctx, rec)
	}
	return nil
}

// advanceRecord applies the monotonic, idempotent transition rule: moving
// backward or repeating a transition is a no-op (§3 DeliveryRecord invariant,
// §8 testable property 1).
func (t *Tracker) advanceRecord(ctx context.Context, messageID, recipientID string, newState model.DeliveryState) (*model.DeliveryRecord, bool, error) {
	rec, err := t.store.GetDeliveryRecord(ctx, messageID, recipientID)
	if err != nil {
		return nil, false, fmt.Errorf("loading delivery record: %w", err)
	}
	if !rec.State.Precedes(newState) {
		return rec, false, nil
	}

	now := time.Now()
	rec.State = newState
	switch newState {
	case model.DeliverySent:
		rec.SentAt = &now
	case model.DeliveryDelivered:
		rec.DeliveredAt = &now
	case model.DeliveryRead:
		rec.ReadAt = &now
	}
	if err := t.store.UpsertDeliveryRecord(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("advancing delivery record: %w", err)
	}
	return rec, true, nil
}
