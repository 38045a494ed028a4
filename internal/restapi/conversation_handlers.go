// ABOUTME: Conversation creation, listing, and group rename/membership — thin wrappers over the Conversation Router.

package restapi

import (
	"errors"
	"net/http"

	"github.com/2389/chat-core/internal/apperr"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

type conversationResponse struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	DisplayName    string   `json:"displayName,omitempty"`
	Participants   []string `json:"participants"`
	CreatedAt      string   `json:"createdAt"`
	LastActivityAt string   `json:"lastActivityAt"`
}

func conversationToResponse(c *model.Conversation) conversationResponse {
	return conversationResponse{
		ID:             c.ID,
		Kind:           string(c.Kind),
		DisplayName:    c.DisplayName,
		Participants:   c.Participants,
		CreatedAt:      isoTime(c.CreatedAt),
		LastActivityAt: isoTime(c.LastActivityAt),
	}
}

func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	convs, err := a.store.ListConversationsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "listing conversations", err))
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationToResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type createConversationRequest struct {
	DisplayName    string   `json:"displayName" validate:"required_if=Kind group"`
	Kind           string   `json:"kind" validate:"required,oneof=direct group"`
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1"`
}

func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	var req createConversationRequest
	if err := decodeJSON(r, &req, func(v any) error { return a.validate.Struct(v) }); err != nil {
		writeError(w, err)
		return
	}

	participants := appendIfMissing(req.ParticipantIDs, userID)

	if req.Kind == string(model.ConversationDirect) {
		if len(participants) != 2 {
			writeError(w, apperr.Wrap(apperr.CodeBadRequest, "direct conversations take exactly one other participant", nil))
			return
		}
		conv, err := a.router.CreateDirect(r.Context(), participants[0], participants[1])
		if err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInternal, "creating direct conversation", err))
			return
		}
		writeJSON(w, http.StatusCreated, conversationToResponse(conv))
		return
	}

	conv, err := a.router.CreateGroup(r.Context(), req.DisplayName, participants)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "creating group conversation", err))
		return
	}
	writeJSON(w, http.StatusCreated, conversationToResponse(conv))
}

type createDirectConversationRequest struct {
	PeerID string `json:"peerId" validate:"required"`
}

// handleCreateDirectConversation resolves Open Question #1: both
// /conversations and /conversations/direct persist via the Router, and
// repeat calls between the same pair return the existing conversation
// instead of erroring.
func (a *API) handleCreateDirectConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	var req createDirectConversationRequest
	if err := decodeJSON(r, &req, func(v any) error { return a.validate.Struct(v) }); err != nil {
		writeError(w, err)
		return
	}
	conv, err := a.router.CreateDirect(r.Context(), userID, req.PeerID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "creating direct conversation", err))
		return
	}
	writeJSON(w, http.StatusCreated, conversationToResponse(conv))
}

type updateConversationRequest struct {
	DisplayName   *string  `json:"displayName"`
	AddParticipantIDs    []string `json:"addParticipantIds"`
	RemoveParticipantIDs []string `json:"removeParticipantIds"`
}

// handleUpdateConversation resolves Open Question #3: rename and membership
// change are implemented for group conversations only; a direct
// conversation's participant set is immutable per §3, so this returns
// Forbidden rather than silently no-opping.
func (a *API) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	conversationID := r.PathValue("id")

	conv, err := a.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, apperr.NotFound)
			return
		}
		writeError(w, apperr.Wrap(apperr.CodeInternal, "loading conversation", err))
		return
	}
	if !isParticipant(conv.Participants, userID) {
		writeError(w, apperr.Forbidden)
		return
	}
	if conv.Kind != model.ConversationGroup {
		writeError(w, apperr.Wrap(apperr.CodeForbidden, "direct conversation membership is immutable", nil))
		return
	}

	var req updateConversationRequest
	if err := decodeJSON(r, &req, func(any) error { return nil }); err != nil {
		writeError(w, err)
		return
	}

	if req.DisplayName != nil {
		if err := a.store.RenameConversation(r.Context(), conversationID, *req.DisplayName); err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInternal, "renaming conversation", err))
			return
		}
	}
	for _, id := range req.AddParticipantIDs {
		if err := a.router.AddParticipant(r.Context(), conversationID, id); err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInternal, "adding participant", err))
			return
		}
	}
	for _, id := range req.RemoveParticipantIDs {
		if err := a.router.RemoveParticipant(r.Context(), conversationID, id); err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInternal, "removing participant", err))
			return
		}
	}

	updated, err := a.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "reloading conversation", err))
		return
	}
	writeJSON(w, http.StatusOK, conversationToResponse(updated))
}

func appendIfMissing(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(append([]string(nil), ids...), id)
}

func isParticipant(participants []string, userID string) bool {
	for _, p := range participants {
		if p == userID {
			return true
		}
	}
	return false
}
