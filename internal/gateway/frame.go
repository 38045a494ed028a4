// ABOUTME: Wire frame shapes for the duplex transport — one JSON object per frame, discriminated by "type".
// ABOUTME: Inbound frames are parsed with the envelope's Type field, then validated with go-playground/validator.

package gateway

import (
	"encoding/json"
	"time"
)

// Inbound frame type names, per §4.1's public contract.
const (
	frameJoinConversation     = "join-conversation"
	frameLeaveConversation    = "leave-conversation"
	frameMessage              = "message"
	frameTyping               = "typing"
	frameReadReceipt          = "read-receipt"
	frameMarkConversationRead = "mark-conversation-read"
	frameStatus               = "status"
	frameUserActivity         = "user-activity"
	frameReactionAdd          = "reaction-add"
	frameReactionRemove       = "reaction-remove"
	framePing                 = "ping"
)

// Outbound frame type names.
const (
	frameMessageSent      = "message-sent"
	frameMessageStatus    = "message-status"
	frameMessageRead      = "message-read"
	frameMessageFailed    = "message-failed"
	frameTypingStopped    = "typing-stopped"
	frameUserStatus       = "user-status"
	frameConversationView = "conversation-presence"
	frameReactionAddOut   = "reaction:add"
	frameReactionRemoveOut = "reaction:remove"
	frameError            = "error"
	framePong             = "pong"
)

// envelope is the common discriminator every inbound frame carries.
type envelope struct {
	Type string `json:"type"`
}

type joinConversationFrame struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type leaveConversationFrame struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type messageFrame struct {
	ConversationID  string `json:"conversationId" validate:"required"`
	ClientMessageID string `json:"clientMessageId" validate:"required"`
	Payload         string `json:"payload" validate:"required"`
	ParentID        string `json:"parentId"`
	MediaRef        string `json:"mediaRef"`
}

type typingFrame struct {
	ConversationID string `json:"conversationId" validate:"required"`
	On             bool   `json:"on"`
}

type readReceiptFrame struct {
	MessageID string `json:"messageId" validate:"required"`
}

type markConversationReadFrame struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type statusFrame struct {
	Status        string `json:"status" validate:"required,oneof=online away busy custom offline"`
	CustomMessage string `json:"customMessage"`
	CustomEmoji   string `json:"customEmoji"`
}

type reactionFrame struct {
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required"`
}

// marshalFrame builds the generic outbound envelope; fields are marshaled inline by
// building a map rather than embedding, so every outbound frame is a single
// flat JSON object carrying "type" plus its own fields.
func marshalFrame(kind string, fields map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+1)
	out["type"] = kind
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

func errorFrame(code, message string) []byte {
	b, _ := marshalFrame(frameError, map[string]any{"code": code, "message": message})
	return b
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
