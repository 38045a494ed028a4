// ABOUTME: Message history and REST-originated message creation — the same
// ABOUTME: accept/persist/dispatch path as the Session Gateway's handleMessage, minus the duplex ack.

package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-core/internal/apperr"
	"github.com/2389/chat-core/internal/conversation"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/push"
	"github.com/2389/chat-core/internal/store"
)

type messageResponse struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversationId"`
	SenderID        string `json:"senderId"`
	Payload         string `json:"payload"`
	MediaRef        string `json:"mediaRef,omitempty"`
	ParentMessageID string `json:"parentId,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

func messageToResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Payload:         m.Payload,
		MediaRef:        m.MediaRef,
		ParentMessageID: m.ParentMessageID,
		CreatedAt:       isoTime(m.CreatedAt),
	}
}

const defaultMessagePageSize = 50

// handleListMessages returns a page of a conversation's message history,
// newest first, to a caller who must be a current participant.
func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	conversationID := r.PathValue("conversationId")

	if err := a.requireParticipant(r, conversationID, userID); err != nil {
		writeError(w, err)
		return
	}

	before := time.Now()
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.CodeBadRequest, "invalid before timestamp", err))
			return
		}
		before = t
	}
	limit := defaultMessagePageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apperr.Wrap(apperr.CodeBadRequest, "invalid limit", err))
			return
		}
		limit = n
	}

	msgs, err := a.store.ListMessages(r.Context(), conversationID, before, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "listing messages", err))
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type createMessageRequest struct {
	ConversationID  string `json:"conversationId" validate:"required"`
	ClientMessageID string `json:"clientMessageId" validate:"required"`
	Payload         string `json:"payload" validate:"required"`
	ParentID        string `json:"parentId"`
	MediaRef        string `json:"mediaRef"`
}

// handleCreateMessage mirrors the Session Gateway's handleMessage: validate
// participancy, persist, then dispatch through the Conversation Router so a
// REST-originated send fans out to live sessions exactly like a duplex one.
// There is no `message-sent` ack frame here; the HTTP response body plays
// that role for a REST caller.
func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	var req createMessageRequest
	if err := decodeJSON(r, &req, func(v any) error { return a.validate.Struct(v) }); err != nil {
		writeError(w, err)
		return
	}
	if err := a.requireParticipant(r, req.ConversationID, userID); err != nil {
		writeError(w, err)
		return
	}

	msg := &model.Message{
		ID:                  uuid.New().String(),
		ConversationID:      req.ConversationID,
		SenderID:            userID,
		Payload:             req.Payload,
		MediaRef:            req.MediaRef,
		ParentMessageID:     req.ParentID,
		ReadReceiptsEnabled: true,
		CreatedAt:           time.Now(),
	}
	if err := a.store.SaveMessage(r.Context(), msg); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "saving message", err))
		return
	}

	wire, err := json.Marshal(map[string]any{
		"type":            "message",
		"conversationId":  msg.ConversationID,
		"messageId":       msg.ID,
		"clientMessageId": req.ClientMessageID,
		"senderId":        msg.SenderID,
		"payload":         msg.Payload,
		"parentId":        msg.ParentMessageID,
		"mediaRef":        msg.MediaRef,
		"createdAt":       isoTime(msg.CreatedAt),
	})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "marshaling message frame", err))
		return
	}

	if a.router != nil {
		if err := a.router.Dispatch(r.Context(), conversation.Event{
			Kind:           push.EventMessage,
			ConversationID: req.ConversationID,
			OriginUserID:   userID,
			Payload:        wire,
			Message:        msg,
			PushTitle:      "New message",
			PushBody:       truncatePreview(msg.Payload),
		}); err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInternal, "dispatching message", err))
			return
		}
	}

	writeJSON(w, http.StatusCreated, messageToResponse(msg))
}

func truncatePreview(payload string) string {
	const maxLen = 80
	if len(payload) <= maxLen {
		return payload
	}
	return payload[:maxLen] + "…"
}

// requireParticipant loads conversationID and confirms userID belongs to it,
// the same check the Gateway's checkParticipant performs before accepting an
// inbound frame.
func (a *API) requireParticipant(r *http.Request, conversationID, userID string) error {
	conv, err := a.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound
		}
		return apperr.Wrap(apperr.CodeInternal, "loading conversation", err)
	}
	if !isParticipant(conv.Participants, userID) {
		return apperr.Forbidden
	}
	return nil
}
