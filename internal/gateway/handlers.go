// ABOUTME: Inbound frame handling — one method per event in §4.1's public contract.
// ABOUTME: Each handler validates, applies the operation against the appropriate component, and acks or errors the sender directly.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-core/internal/apperr"
	"github.com/2389/chat-core/internal/conversation"
	"github.com/2389/chat-core/internal/ephemeral"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/push"
	"github.com/2389/chat-core/internal/store"
)

// handleFrame parses the envelope, dispatches on Type, and reports malformed
// frames back to the sender without closing the session (§4.1 failure
// semantics: "a malformed frame is logged and dropped; it does not close
// the session").
func (g *Gateway) handleFrame(ctx context.Context, sess *Session, data []byte) {
	if !g.pipeline.Allow(sess.ID) {
		return // rate limit exceeded: dropped silently per §4.5
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.sendError(ctx, sess, apperr.CodeBadRequest, "malformed frame")
		return
	}

	var err error
	switch env.Type {
	case frameJoinConversation:
		err = g.handleJoinConversation(ctx, sess, data)
	case frameLeaveConversation:
		err = g.handleLeaveConversation(ctx, sess, data)
	case frameMessage:
		err = g.handleMessage(ctx, sess, data)
	case frameTyping:
		err = g.handleTyping(ctx, sess, data)
	case frameReadReceipt:
		err = g.handleReadReceipt(ctx, sess, data)
	case frameMarkConversationRead:
		err = g.handleMarkConversationRead(ctx, sess, data)
	case frameStatus:
		err = g.handleStatus(ctx, sess, data)
	case frameUserActivity:
		g.presence.Touch(ctx, sess.UserID)
		return
	case frameReactionAdd:
		err = g.handleReaction(ctx, sess, data, true)
	case frameReactionRemove:
		err = g.handleReaction(ctx, sess, data, false)
	case framePing:
		payload, _ := marshalFrame(framePong, nil)
		_ = g.SendToSession(ctx, sess.ID, payload)
		return
	default:
		g.sendError(ctx, sess, apperr.CodeBadRequest, "unknown frame type")
		return
	}

	if err != nil {
		g.logger.Debug("frame handling failed", "type", env.Type, "error", err, "session_id", sess.ID)
		g.sendError(ctx, sess, apperr.CodeOf(err), err.Error())
	}
}

func (g *Gateway) sendError(ctx context.Context, sess *Session, code apperr.Code, message string) {
	_ = g.SendToSession(ctx, sess.ID, errorFrame(string(code), message))
}

func decodeFrame[T any](data []byte, v *T, validate func(any) error) error {
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "invalid frame body", err)
	}
	if err := validate(v); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "validation failed", err)
	}
	return nil
}

func (g *Gateway) checkParticipant(ctx context.Context, conversationID, userID string) error {
	participants, err := g.router.Participants(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound
		}
		return apperr.Wrap(apperr.CodeInternal, "loading conversation", err)
	}
	for _, p := range participants {
		if p == userID {
			return nil
		}
	}
	return apperr.Forbidden
}

func (g *Gateway) handleJoinConversation(ctx context.Context, sess *Session, data []byte) error {
	var f joinConversationFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	if err := g.checkParticipant(ctx, f.ConversationID, sess.UserID); err != nil {
		return err
	}
	if !sess.markJoined(f.ConversationID) {
		return nil // already joined: no-op
	}
	payload, err := marshalFrame(frameConversationView, map[string]any{
		"conversationId": f.ConversationID,
		"userId":         sess.UserID,
		"joined":         true,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshaling conversation-presence", err)
	}
	return g.router.Dispatch(ctx, conversation.Event{
		Kind:           push.EventPresence,
		ConversationID: f.ConversationID,
		OriginUserID:   sess.UserID,
		Payload:        payload,
	})
}

func (g *Gateway) handleLeaveConversation(ctx context.Context, sess *Session, data []byte) error {
	var f leaveConversationFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	if !sess.markLeft(f.ConversationID) {
		return nil
	}
	payload, err := marshalFrame(frameConversationView, map[string]any{
		"conversationId": f.ConversationID,
		"userId":         sess.UserID,
		"joined":         false,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshaling conversation-presence", err)
	}
	return g.router.Dispatch(ctx, conversation.Event{
		Kind:           push.EventPresence,
		ConversationID: f.ConversationID,
		OriginUserID:   sess.UserID,
		Payload:        payload,
	})
}

func (g *Gateway) handleMessage(ctx context.Context, sess *Session, data []byte) error {
	var f messageFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	if err := g.checkParticipant(ctx, f.ConversationID, sess.UserID); err != nil {
		return err
	}

	msg := &model.Message{
		ID:                  uuid.New().String(),
		ConversationID:      f.ConversationID,
		SenderID:            sess.UserID,
		Payload:             f.Payload,
		MediaRef:            f.MediaRef,
		ParentMessageID:     f.ParentID,
		ReadReceiptsEnabled: true,
		CreatedAt:           time.Now(),
	}
	if err := g.store.SaveMessage(ctx, msg); err != nil {
		ackFailed, _ := marshalFrame(frameMessageFailed, map[string]any{
			"clientMessageId": f.ClientMessageID,
			"conversationId":  f.ConversationID,
			"code":            string(apperr.CodeInternal),
		})
		_ = g.SendToSession(ctx, sess.ID, ackFailed)
		return apperr.Wrap(apperr.CodeInternal, "saving message", err)
	}

	g.pipeline.SuppressForMessage(sess.ID, f.ConversationID)

	wire, err := marshalFrame(frameMessage, map[string]any{
		"conversationId":  msg.ConversationID,
		"messageId":       msg.ID,
		"clientMessageId": f.ClientMessageID,
		"senderId":        msg.SenderID,
		"payload":         msg.Payload,
		"parentId":        msg.ParentMessageID,
		"mediaRef":        msg.MediaRef,
		"createdAt":       isoTime(msg.CreatedAt),
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshaling message frame", err)
	}

	if err := g.router.Dispatch(ctx, conversation.Event{
		Kind:           push.EventMessage,
		ConversationID: f.ConversationID,
		OriginUserID:   sess.UserID,
		Payload:        wire,
		Message:        msg,
		PushTitle:      "New message",
		PushBody:       truncatePreview(msg.Payload),
	}); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "dispatching message", err)
	}

	ack, err := marshalFrame(frameMessageSent, map[string]any{
		"clientMessageId": f.ClientMessageID,
		"messageId":       msg.ID,
		"conversationId":  msg.ConversationID,
		"createdAt":       isoTime(msg.CreatedAt),
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshaling message-sent frame", err)
	}
	return g.SendToSession(ctx, sess.ID, ack)
}

func truncatePreview(payload string) string {
	const maxLen = 80
	if len(payload) <= maxLen {
		return payload
	}
	return payload[:maxLen] + "…"
}

func (g *Gateway) handleTyping(ctx context.Context, sess *Session, data []byte) error {
	var f typingFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	if f.On {
		g.pipeline.TypingOn(ctx, sess.ID, f.ConversationID, sess.UserID)
	} else {
		g.pipeline.TypingOff(ctx, sess.ID, f.ConversationID, sess.UserID)
	}
	return nil
}

func (g *Gateway) handleReadReceipt(ctx context.Context, sess *Session, data []byte) error {
	var f readReceiptFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	msg, err := g.store.GetMessage(ctx, f.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound
		}
		return apperr.Wrap(apperr.CodeInternal, "loading message", err)
	}
	g.pipeline.ReadReceipt(ctx, sess.UserID, msg.SenderID, f.MessageID)
	return nil
}

func (g *Gateway) handleMarkConversationRead(ctx context.Context, sess *Session, data []byte) error {
	var f markConversationReadFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	if err := g.tracker.MarkConversationRead(ctx, f.ConversationID, sess.UserID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marking conversation read", err)
	}
	return nil
}

func (g *Gateway) handleStatus(ctx context.Context, sess *Session, data []byte) error {
	var f statusFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	status := model.PresenceStatus(f.Status)
	g.presence.SetStatus(ctx, sess.UserID, status, f.CustomMessage, f.CustomEmoji)
	if err := g.store.UpdateUserStatus(ctx, sess.UserID, status, f.CustomMessage, f.CustomEmoji); err != nil {
		g.logger.Warn("persisting status failed", "error", err, "user_id", sess.UserID)
	}
	if err := g.store.RecordStatusChange(ctx, sess.UserID, status, time.Now()); err != nil {
		g.logger.Debug("recording status history failed", "error", err, "user_id", sess.UserID)
	}
	return nil
}

func (g *Gateway) handleReaction(ctx context.Context, sess *Session, data []byte, add bool) error {
	var f reactionFrame
	if err := decodeFrame(data, &f, func(v any) error { return g.validator.Struct(v) }); err != nil {
		return err
	}
	if add {
		r := &model.Reaction{MessageID: f.MessageID, UserID: sess.UserID, Emoji: f.Emoji, CreatedAt: time.Now()}
		if err := g.store.AddReaction(ctx, r); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return apperr.Wrap(apperr.CodeInternal, "adding reaction", err)
		}
	} else {
		if err := g.store.RemoveReaction(ctx, f.MessageID, sess.UserID, f.Emoji); err != nil && !errors.Is(err, store.ErrNotFound) {
			return apperr.Wrap(apperr.CodeInternal, "removing reaction", err)
		}
	}
	g.pipeline.QueueReaction(ctx, f.MessageID, ephemeral.ReactionUpdate{
		UserID: sess.UserID,
		Emoji:  f.Emoji,
		Add:    add,
	})
	return nil
}
