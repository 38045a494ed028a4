// ABOUTME: Profile lookup and status query/set — the REST mirrors of the Gateway's
// ABOUTME: `status` frame and the Presence Registry's Snapshot, for callers without a live session.

package restapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/chat-core/internal/apperr"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	user, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "loading user", err))
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(user))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, err := principalID(r); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	id := r.PathValue("id")
	user, err := a.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, apperr.NotFound)
			return
		}
		writeError(w, apperr.Wrap(apperr.CodeInternal, "loading user", err))
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(user))
}

type statusResponse struct {
	UserID        string `json:"userId"`
	Status        string `json:"status"`
	CustomMessage string `json:"customMessage,omitempty"`
	CustomEmoji   string `json:"customEmoji,omitempty"`
}

// handleGetStatus serves a contact's live presence via the Registry's
// Snapshot when one is wired, falling back to the persisted last-known
// status (used by single-process dev setups and by the mock-cache mode).
func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := principalID(r); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	userID := r.PathValue("userId")

	if a.presence != nil {
		snap := a.presence.Snapshot(r.Context(), []string{userID})
		if info, ok := snap[userID]; ok && info.Status != "" {
			writeJSON(w, http.StatusOK, statusResponse{
				UserID:        userID,
				Status:        string(info.Status),
				CustomMessage: info.CustomMessage,
				CustomEmoji:   info.CustomEmoji,
			})
			return
		}
	}

	user, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, apperr.NotFound)
			return
		}
		writeError(w, apperr.Wrap(apperr.CodeInternal, "loading user", err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		UserID:        user.ID,
		Status:        string(user.Status),
		CustomMessage: user.CustomMessage,
		CustomEmoji:   user.CustomEmoji,
	})
}

type putStatusRequest struct {
	Status        string `json:"status" validate:"required,oneof=online away busy custom offline"`
	CustomMessage string `json:"customMessage"`
	CustomEmoji   string `json:"customEmoji"`
}

// handlePutStatus is the REST equivalent of the Gateway's `status` frame
// (§4.1): it updates the live Registry (when wired) the same way a
// connected session's handleStatus does, then persists the declared status
// and records history.
func (a *API) handlePutStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	var req putStatusRequest
	if err := decodeJSON(r, &req, func(v any) error { return a.validate.Struct(v) }); err != nil {
		writeError(w, err)
		return
	}
	status := model.PresenceStatus(req.Status)

	if a.presence != nil {
		a.presence.SetStatus(r.Context(), userID, status, req.CustomMessage, req.CustomEmoji)
	}
	if err := a.store.UpdateUserStatus(r.Context(), userID, status, req.CustomMessage, req.CustomEmoji); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "persisting status", err))
		return
	}
	if err := a.store.RecordStatusChange(r.Context(), userID, status, time.Now()); err != nil {
		a.logger.Debug("recording status history failed", "error", err, "user_id", userID)
	}
	writeJSON(w, http.StatusOK, statusResponse{UserID: userID, Status: req.Status, CustomMessage: req.CustomMessage, CustomEmoji: req.CustomEmoji})
}
