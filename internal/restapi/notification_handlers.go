// ABOUTME: Notification preferences and web-push subscription management — §4.7's per-user
// ABOUTME: preference store plus the PushSubscription lifecycle named in §3.

package restapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/chat-core/internal/apperr"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

type notificationSettingsResponse struct {
	Enabled         bool            `json:"enabled"`
	QuietHoursStart string          `json:"quietHoursStart,omitempty"`
	QuietHoursEnd   string          `json:"quietHoursEnd,omitempty"`
	MutedConvos     map[string]bool `json:"mutedConversations,omitempty"`
}

func notificationSettingsToResponse(s *model.NotificationSettings) notificationSettingsResponse {
	return notificationSettingsResponse{
		Enabled:         s.Enabled,
		QuietHoursStart: s.QuietHoursStart,
		QuietHoursEnd:   s.QuietHoursEnd,
		MutedConvos:     s.MutedConvos,
	}
}

// handleGetNotificationSettings returns the caller's preferences, defaulting
// to "enabled, no quiet hours" when the user has never saved any — the same
// default the Push Dispatcher applies when it finds no row (§4.7).
func (a *API) handleGetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	settings, err := a.store.GetNotificationSettings(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, notificationSettingsResponse{Enabled: true})
			return
		}
		writeError(w, apperr.Wrap(apperr.CodeInternal, "loading notification settings", err))
		return
	}
	writeJSON(w, http.StatusOK, notificationSettingsToResponse(settings))
}

type putNotificationSettingsRequest struct {
	Enabled         bool            `json:"enabled"`
	QuietHoursStart string          `json:"quietHoursStart"`
	QuietHoursEnd   string          `json:"quietHoursEnd"`
	MutedConvos     map[string]bool `json:"mutedConversations"`
}

func (a *API) handlePutNotificationSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	var req putNotificationSettingsRequest
	if err := decodeJSON(r, &req, func(any) error { return nil }); err != nil {
		writeError(w, err)
		return
	}
	settings := &model.NotificationSettings{
		UserID:          userID,
		Enabled:         req.Enabled,
		QuietHoursStart: req.QuietHoursStart,
		QuietHoursEnd:   req.QuietHoursEnd,
		MutedConvos:     req.MutedConvos,
	}
	if err := a.store.SaveNotificationSettings(r.Context(), settings); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "saving notification settings", err))
		return
	}
	writeJSON(w, http.StatusOK, notificationSettingsToResponse(settings))
}

type subscribeRequest struct {
	Endpoint  string `json:"endpoint" validate:"required"`
	P256dhKey string `json:"p256dhKey" validate:"required"`
	AuthKey   string `json:"authKey" validate:"required"`
	UserAgent string `json:"userAgent"`
}

// handleNotificationSubscribe registers a new web-push endpoint for the
// caller. A device may hold only one subscription per endpoint; re-
// subscribing the same endpoint replaces key material rather than erroring,
// since browsers legitimately resubscribe after key rotation.
func (a *API) handleNotificationSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := principalID(r)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	var req subscribeRequest
	if err := decodeJSON(r, &req, func(v any) error { return a.validate.Struct(v) }); err != nil {
		writeError(w, err)
		return
	}
	sub := &model.PushSubscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		UserAgent: req.UserAgent,
	}
	if err := a.store.SavePushSubscription(r.Context(), sub); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "saving push subscription", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

func (a *API) handleNotificationUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if _, err := principalID(r); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeUnauthorized, "unauthenticated", err))
		return
	}
	var req unsubscribeRequest
	if err := decodeJSON(r, &req, func(v any) error { return a.validate.Struct(v) }); err != nil {
		writeError(w, err)
		return
	}
	if err := a.store.DeletePushSubscriptionByEndpoint(r.Context(), req.Endpoint); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "removing push subscription", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVAPIDPublicKey is unauthenticated: a client needs the public key
// before it has ever logged in, to construct its PushSubscription via the
// browser's Push API.
func (a *API) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": a.vapidKey})
}
