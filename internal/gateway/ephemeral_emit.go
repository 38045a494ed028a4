// ABOUTME: Gateway-side ephemeral.Emitter implementation — the sink the Ephemeral Signal Pipeline calls into.
// ABOUTME: Typing and reactions route through the Conversation Router; read-receipt throttling feeds the Delivery Tracker; presence batches go direct to the recipient.

package gateway

import (
	"context"

	"github.com/2389/chat-core/internal/conversation"
	"github.com/2389/chat-core/internal/ephemeral"
	"github.com/2389/chat-core/internal/push"
)

// EmitTyping forwards a debounced typing signal to every other participant
// of conversationID via the Conversation Router, so it reaches sessions on
// other process instances too.
func (g *Gateway) EmitTyping(ctx context.Context, conversationID, userID string, on bool) {
	kind := frameTyping
	if !on {
		kind = frameTypingStopped
	}
	payload, err := marshalFrame(kind, map[string]any{
		"conversationId": conversationID,
		"userId":         userID,
	})
	if err != nil {
		g.logger.Error("failed marshaling typing frame", "error", err)
		return
	}
	if err := g.router.Dispatch(ctx, conversation.Event{
		Kind:           push.EventTyping,
		ConversationID: conversationID,
		OriginUserID:   userID,
		Payload:        payload,
	}); err != nil {
		g.logger.Warn("typing dispatch failed", "error", err, "conversation_id", conversationID)
	}
}

// EmitReadReceiptThrottled is the Pipeline's throttled hand-off into the
// Delivery Tracker: bursts of read-receipt(messageId) calls from one
// recipient, for the same sender, collapse to one Tracker transition per
// throttle window rather than one per inbound frame.
func (g *Gateway) EmitReadReceiptThrottled(ctx context.Context, recipientID, senderID, messageID string) {
	if err := g.tracker.RecordReadReceipt(ctx, messageID, recipientID); err != nil {
		g.logger.Warn("recording throttled read receipt failed", "error", err, "message_id", messageID)
	}
}

// EmitPresenceBatch delivers a coalesced window of presence changes direct
// to recipientID's local sessions.
func (g *Gateway) EmitPresenceBatch(ctx context.Context, recipientID string, updates map[string]ephemeral.PresenceUpdate) {
	peers := make([]map[string]any, 0, len(updates))
	for _, u := range updates {
		peers = append(peers, map[string]any{
			"userId":        u.UserID,
			"status":        u.Status,
			"customMessage": u.CustomMessage,
			"customEmoji":   u.CustomEmoji,
		})
	}
	payload, err := marshalFrame(frameUserStatus, map[string]any{"updates": peers})
	if err != nil {
		g.logger.Error("failed marshaling user-status frame", "error", err)
		return
	}
	g.sendToUser(ctx, recipientID, payload)
}

// EmitReactionBatch delivers a coalesced window of reaction toggles for one
// message to every participant of its conversation.
func (g *Gateway) EmitReactionBatch(ctx context.Context, messageID string, updates []ephemeral.ReactionUpdate) {
	msg, err := g.store.GetMessage(ctx, messageID)
	if err != nil {
		g.logger.Warn("reaction batch: message lookup failed", "error", err, "message_id", messageID)
		return
	}
	adds := make([]map[string]any, 0, len(updates))
	removes := make([]map[string]any, 0, len(updates))
	for _, u := range updates {
		entry := map[string]any{"userId": u.UserID, "emoji": u.Emoji}
		if u.Add {
			adds = append(adds, entry)
		} else {
			removes = append(removes, entry)
		}
	}
	if len(adds) > 0 {
		g.publishReactions(ctx, msg.ConversationID, messageID, frameReactionAddOut, adds)
	}
	if len(removes) > 0 {
		g.publishReactions(ctx, msg.ConversationID, messageID, frameReactionRemoveOut, removes)
	}
}

func (g *Gateway) publishReactions(ctx context.Context, conversationID, messageID, kind string, entries []map[string]any) {
	payload, err := marshalFrame(kind, map[string]any{
		"messageId": messageID,
		"reactions": entries,
	})
	if err != nil {
		g.logger.Error("failed marshaling reaction frame", "error", err)
		return
	}
	if err := g.router.Dispatch(ctx, conversation.Event{
		Kind:           push.EventReaction,
		ConversationID: conversationID,
		OriginUserID:   "",
		Payload:        payload,
		PushTitle:      "New reaction",
		PushBody:       "Someone reacted to your message",
	}); err != nil {
		g.logger.Warn("reaction dispatch failed", "error", err, "conversation_id", conversationID)
	}
}
