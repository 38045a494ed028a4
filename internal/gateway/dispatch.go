// ABOUTME: Gateway-side implementations of the collaborator interfaces the other six components depend on.
// ABOUTME: SessionDispatcher for the Router, Drainer for the Offline Queue, Emitter for the Tracker and the Ephemeral Pipeline.

package gateway

import (
	"context"
	"time"

	"github.com/2389/chat-core/internal/broadcaster"
	"github.com/2389/chat-core/internal/conversation"
	"github.com/2389/chat-core/internal/ephemeral"
	"github.com/2389/chat-core/internal/model"
)

// SendToSession implements conversation.SessionDispatcher. It never touches
// the transport directly; it publishes onto the per-session broadcaster
// channel the session's writer pump drains, which is where the bounded
// queue and drop-on-full backpressure (§5) actually live.
func (g *Gateway) SendToSession(ctx context.Context, sessionID string, payload []byte) error {
	return g.publishToSession(sessionID, payload, "")
}

// SendMessageToSession implements conversation.MessageSessionDispatcher: the
// same hand-off as SendToSession, tagged with messageID so the writer pump
// can advance the Delivery Tracker to `delivered` once it actually flushes
// the frame to the live socket (§4.4 Open Question #2).
func (g *Gateway) SendMessageToSession(ctx context.Context, sessionID, messageID string, payload []byte) error {
	return g.publishToSession(sessionID, payload, messageID)
}

func (g *Gateway) publishToSession(sessionID string, payload []byte, messageID string) error {
	if g.sessions.broadcaster.SubscriberCount(sessionID) == 0 {
		return errSessionGone
	}
	g.sessions.broadcaster.Publish(sessionID, &broadcaster.Envelope{Kind: "frame", Payload: payload, MessageID: messageID}, "")
	return nil
}

// DeliverOffline implements offlinequeue.Drainer. It replays a previously
// queued item to whichever of the recipient's local sessions are live right
// now — the Queue has already resolved "this user has a session open
// somewhere" before calling Drain.
func (g *Gateway) DeliverOffline(ctx context.Context, item *model.OfflineItem) error {
	sessionIDs := g.presence.SessionsFor(item.RecipientID)
	if len(sessionIDs) == 0 {
		return errSessionGone
	}
	delivered := false
	for _, sessionID := range sessionIDs {
		if err := g.publishToSession(sessionID, item.Payload, item.MessageID); err == nil {
			delivered = true
		}
	}
	if !delivered {
		return errSessionGone
	}
	return nil
}

// AdvanceToSent implements the second half of offlinequeue.Drainer, handed
// straight through to the Delivery Tracker.
func (g *Gateway) AdvanceToSent(ctx context.Context, messageID, recipientID string) error {
	return g.tracker.AdvanceToSent(ctx, messageID, recipientID)
}

// EmitMessageStatus implements delivery.Emitter. It reaches the sender's
// local sessions only: a sender with no live session will see current state
// on next fetch via the REST companion surface.
func (g *Gateway) EmitMessageStatus(ctx context.Context, rec *model.DeliveryRecord) {
	payload, err := marshalFrame(frameMessageStatus, map[string]any{
		"messageId":      rec.MessageID,
		"conversationId": rec.ConversationID,
		"recipientId":    rec.RecipientID,
		"state":          string(rec.State),
	})
	if err != nil {
		g.logger.Error("failed marshaling message-status frame", "error", err)
		return
	}
	g.sendToUser(ctx, rec.SenderID, payload)
}

// EmitMessageRead implements the coalesced half of delivery.Emitter.
func (g *Gateway) EmitMessageRead(ctx context.Context, senderID, conversationID string, messageIDs []string, at time.Time) {
	payload, err := marshalFrame(frameMessageRead, map[string]any{
		"conversationId": conversationID,
		"messageIds":     messageIDs,
		"at":             isoTime(at),
	})
	if err != nil {
		g.logger.Error("failed marshaling message-read frame", "error", err)
		return
	}
	g.sendToUser(ctx, senderID, payload)
}

// sendToUser delivers payload to every local session of userID, best
// effort. It is used for the delivery/ephemeral emitters, which only ever
// need to reach one user's own sessions (the sender for delivery status,
// the recipient for a presence batch), not a conversation's full
// participant set — that routing already happened through the Router.
func (g *Gateway) sendToUser(ctx context.Context, userID string, payload []byte) {
	for _, sessionID := range g.presence.SessionsFor(userID) {
		_ = g.SendToSession(ctx, sessionID, payload)
	}
}

var _ ephemeral.Emitter = (*Gateway)(nil)
var _ conversation.SessionDispatcher = (*Gateway)(nil)
var _ conversation.MessageSessionDispatcher = (*Gateway)(nil)
