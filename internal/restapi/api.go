// ABOUTME: API wires the REST companion surface to the same component instances the Session Gateway built.
// ABOUTME: Each handler is a thin translation layer: decode, validate, call a component, encode.

package restapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/chat-core/internal/auth"
	"github.com/2389/chat-core/internal/conversation"
	"github.com/2389/chat-core/internal/delivery"
	"github.com/2389/chat-core/internal/ephemeral"
	"github.com/2389/chat-core/internal/presence"
	"github.com/2389/chat-core/internal/push"
	"github.com/2389/chat-core/internal/store"
)

// Config bundles the collaborators API needs. All fields are required
// except Push and Pipeline, which may be nil when push notifications are
// disabled or when REST-originated reactions need not wake live sessions.
type Config struct {
	Store           store.Store
	Router          *conversation.Router
	Tracker         *delivery.Tracker
	Presence        *presence.Registry
	Pipeline        *ephemeral.Pipeline
	Push            *push.Dispatcher
	AuthVerifier    *auth.JWTVerifier
	Validator       *validator.Validate
	Logger          *slog.Logger
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	VAPIDPublicKey  string
}

// API is the REST companion surface.
type API struct {
	store      store.Store
	router     *conversation.Router
	tracker    *delivery.Tracker
	presence   *presence.Registry
	pipeline   *ephemeral.Pipeline
	push       *push.Dispatcher
	verifier   *auth.JWTVerifier
	validate   *validator.Validate
	logger     *slog.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
	vapidKey   string
}

// New builds an API from cfg.
func New(cfg Config) *API {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validator == nil {
		cfg.Validator = validator.New()
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	return &API{
		store:      cfg.Store,
		router:     cfg.Router,
		tracker:    cfg.Tracker,
		presence:   cfg.Presence,
		pipeline:   cfg.Pipeline,
		push:       cfg.Push,
		verifier:   cfg.AuthVerifier,
		validate:   cfg.Validator,
		logger:     cfg.Logger.With("component", "restapi"),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		vapidKey:   cfg.VAPIDPublicKey,
	}
}

// RegisterRoutes mounts every §6 REST endpoint on mux, wrapping the
// authenticated ones in auth.HTTPAuthMiddleware, the way the teacher's
// registerHTTPAPIRoutes conditionally wraps each route.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := auth.HTTPAuthMiddleware(a.store, a.verifier, a.logger)

	mux.HandleFunc("POST /auth/register", a.handleRegister)
	mux.HandleFunc("POST /auth/login", a.handleLogin)
	mux.HandleFunc("POST /auth/refresh-token", a.handleRefreshToken)
	mux.Handle("POST /auth/logout", requireAuth(http.HandlerFunc(a.handleLogout)))

	mux.Handle("GET /conversations", requireAuth(http.HandlerFunc(a.handleListConversations)))
	mux.Handle("POST /conversations", requireAuth(http.HandlerFunc(a.handleCreateConversation)))
	mux.Handle("POST /conversations/direct", requireAuth(http.HandlerFunc(a.handleCreateDirectConversation)))
	mux.Handle("PUT /conversations/{id}", requireAuth(http.HandlerFunc(a.handleUpdateConversation)))

	mux.Handle("GET /messages/{conversationId}", requireAuth(http.HandlerFunc(a.handleListMessages)))
	mux.Handle("POST /messages", requireAuth(http.HandlerFunc(a.handleCreateMessage)))

	mux.Handle("GET /reactions/message/{messageId}", requireAuth(http.HandlerFunc(a.handleListReactions)))
	mux.Handle("POST /reactions/message/{messageId}", requireAuth(http.HandlerFunc(a.handleAddReaction)))
	mux.Handle("DELETE /reactions/message/{messageId}/{emoji}", requireAuth(http.HandlerFunc(a.handleRemoveReaction)))

	mux.Handle("GET /notifications/settings", requireAuth(http.HandlerFunc(a.handleGetNotificationSettings)))
	mux.Handle("PUT /notifications/settings", requireAuth(http.HandlerFunc(a.handlePutNotificationSettings)))
	mux.Handle("POST /notifications/subscribe", requireAuth(http.HandlerFunc(a.handleNotificationSubscribe)))
	mux.Handle("POST /notifications/unsubscribe", requireAuth(http.HandlerFunc(a.handleNotificationUnsubscribe)))
	mux.HandleFunc("GET /notifications/vapid-public-key", a.handleVAPIDPublicKey)

	mux.Handle("GET /users/me", requireAuth(http.HandlerFunc(a.handleGetMe)))
	mux.Handle("GET /users/{id}", requireAuth(http.HandlerFunc(a.handleGetUser)))
	mux.Handle("GET /status/{userId}", requireAuth(http.HandlerFunc(a.handleGetStatus)))
	mux.Handle("PUT /status", requireAuth(http.HandlerFunc(a.handlePutStatus)))
}
