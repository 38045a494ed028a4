// ABOUTME: Reaction listing, add, and remove — (message, user, emoji) uniqueness enforced by the store,
// ABOUTME: live fan-out delegated to the Ephemeral Pipeline's per-message reaction batch window.

package restapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/2389/chat-core/internal/apperr"
	"github.com/2389/chat-core/internal/ephemeral"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

type reactionResponse struct {
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	CreatedAt string `json:"createdAt"`
}

func (a *API) handleListReactions(w http.ResponseWriter, r *http.Request) {
	if _, err := principalID(r); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	messageID := r.PathValue("messageId")
	reactions, err := a.store.ListReactions(r.Context(), messageID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "listing reactions", err))
		return
	}
	out := make([]reactionResponse, 0, len(reactions))
	for _, rx := range reactions {
		out = append(out, reactionResponse{UserID: rx.UserID, Emoji: rx.Emoji, CreatedAt: isoTime(rx.CreatedAt)})
	}
	writeJSON(w, http.StatusOK, out)
}

type addReactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

// handleAddReaction is idempotent per §3's Reaction invariant: a duplicate
// add is a no-op, not a Conflict, mirroring S4's "toggling is idempotent".
func (a *API) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	messageID := r.PathValue("messageId")
	var req addReactionRequest
	if err := decodeJSON(r, &req, func(v any) error { return a.validate.Struct(v) }); err != nil {
		writeError(w, err)
		return
	}

	rx := &model.Reaction{MessageID: messageID, UserID: userID, Emoji: req.Emoji, CreatedAt: time.Now()}
	if err := a.store.AddReaction(r.Context(), rx); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "adding reaction", err))
		return
	}

	a.queueReactionUpdate(r.Context(), messageID, userID, req.Emoji, true)
	writeJSON(w, http.StatusCreated, reactionResponse{UserID: userID, Emoji: req.Emoji, CreatedAt: isoTime(rx.CreatedAt)})
}

func (a *API) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	messageID := r.PathValue("messageId")
	emoji := r.PathValue("emoji")

	if err := a.store.RemoveReaction(r.Context(), messageID, userID, emoji); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "removing reaction", err))
		return
	}

	a.queueReactionUpdate(r.Context(), messageID, userID, emoji, false)
	w.WriteHeader(http.StatusNoContent)
}

// queueReactionUpdate hands the toggle to the Ephemeral Pipeline's
// per-message batch window (§4.5) when one is wired, so REST-originated
// reactions fan out to live sessions the same way gateway-originated ones do.
func (a *API) queueReactionUpdate(ctx context.Context, messageID, userID, emoji string, add bool) {
	if a.pipeline == nil {
		return
	}
	a.pipeline.QueueReaction(ctx, messageID, ephemeral.ReactionUpdate{
		UserID: userID,
		Emoji:  emoji,
		Add:    add,
	})
}
