// ABOUTME: Gateway orchestrator — builds every component, serves the WebSocket upgrade endpoint and health checks.
// ABOUTME: Mirrors the teacher's Gateway lifecycle shape (New/Run/Shutdown, optional Tailscale listener) with a single HTTP server instead of gRPC+HTTP.

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"tailscale.com/tsnet"

	"github.com/2389/chat-core/internal/auth"
	"github.com/2389/chat-core/internal/broadcaster"
	"github.com/2389/chat-core/internal/cache"
	"github.com/2389/chat-core/internal/config"
	"github.com/2389/chat-core/internal/conversation"
	"github.com/2389/chat-core/internal/delivery"
	"github.com/2389/chat-core/internal/ephemeral"
	"github.com/2389/chat-core/internal/offlinequeue"
	"github.com/2389/chat-core/internal/presence"
	"github.com/2389/chat-core/internal/push"
	"github.com/2389/chat-core/internal/store"
)

var errSessionGone = errors.New("gateway: no local session")

// sessionSet is the Gateway's local sessionID -> *Session index, and the
// broadcaster each Session subscribes to for its own outbound queue.
type sessionSet struct {
	mu          sync.RWMutex
	byID        map[string]*Session
	broadcaster *broadcaster.Broadcaster
}

func newSessionSet(logger *slog.Logger) *sessionSet {
	return &sessionSet{
		byID:        make(map[string]*Session),
		broadcaster: broadcaster.New(logger),
	}
}

func (s *sessionSet) add(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sess.ID] = sess
}

func (s *sessionSet) remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sessionID)
}

// Gateway is the Session Gateway (A), wired to the other six components.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	store    store.Store
	bus      cache.Cache
	presence *presence.Registry
	router   *conversation.Router
	tracker  *delivery.Tracker
	pipeline *ephemeral.Pipeline
	offline  *offlinequeue.Queue
	push     *push.Dispatcher
	housekeeper *push.Housekeeper

	authVerifier *auth.JWTVerifier
	validator    *validator.Validate

	sessions *sessionSet

	instanceID  string
	mux         *http.ServeMux
	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// initStore opens the relational store at the configured path, honoring the
// same COVEN_DB_PATH-style override idiom the teacher uses (here
// CHAT_CORE_DB_PATH), and the ":memory:" sentinel for tests.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHAT_CORE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func initCache(cfg *config.Config, logger *slog.Logger) cache.Cache {
	if cfg.Redis.Addr == "" {
		logger.Warn("redis.addr not configured - running single-instance against an in-memory cache")
		return cache.NewMemoryCache()
	}
	return cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 500*time.Millisecond)
}

// New builds a Gateway and every component it depends on, in the leaves-first
// order SPEC_FULL.md's dependency table names: repositories, then (B, F),
// (D, G), (C), (E), and finally (A) itself.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	bus := initCache(cfg, logger)
	instanceID := generateInstanceID()

	gw := &Gateway{
		cfg:          cfg,
		logger:       logger.With("component", "gateway"),
		store:        s,
		bus:          bus,
		authVerifier: jwtVerifier,
		validator:    validator.New(),
		sessions:     newSessionSet(logger),
		instanceID:   instanceID,
	}

	gw.presence = presence.New(presence.Config{
		Cache:         bus,
		InstanceID:    instanceID,
		GracePeriod:   cfg.Presence.GracePeriod,
		AwayThreshold: cfg.Presence.AwayThreshold,
		OnChange:      gw.onPresenceChange,
		Logger:        logger,
	})

	gw.tracker = delivery.New(s, gw, logger)

	gw.offline = offlinequeue.New(s, offlinequeue.Config{
		MaxPerRecipient: cfg.OfflineQueue.MaxItemsPerUser,
		DedupeTTL:       10 * time.Minute,
		DedupeMaxSize:   100_000,
	}, logger)
	gw.offline.SetDrainer(gw)

	if cfg.Push.VAPIDPublicKey != "" {
		transport := push.NewWebPushTransport(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDSubject)
		gw.push = push.New(s, transport, nil, logger, push.Config{})
		gw.housekeeper = push.NewHousekeeper(s, cfg.PushRetention(), 30*24*time.Hour, logger)
		if err := gw.housekeeper.Start(cfg.Push.HousekeepingCron); err != nil {
			logger.Warn("push housekeeping scheduler disabled", "error", err)
		}
	} else {
		logger.Warn("push.vapid_public_key not configured - push notifications disabled")
	}

	gw.router = conversation.New(conversation.Config{
		Store:    s,
		Presence: gw.presence,
		Sessions: gw,
		Bus:      bus,
		Tracker:  gw.tracker,
		Offline:  gw.offline,
		Push:     gw.push,
		Logger:   logger,
	})

	gw.pipeline = ephemeral.New(ephemeral.Config{
		TypingDebounce:      cfg.Ephemeral.TypingDebounce,
		ReadReceiptThrottle: cfg.Ephemeral.ReadReceiptThrottle,
		PresenceBatch:       cfg.Ephemeral.PresenceBatch,
		ReactionBatch:       cfg.Ephemeral.ReactionBatch,
		RateLimitPerSecond:  cfg.Ephemeral.RateLimitPerSecond,
	}, gw)

	gw.mux = http.NewServeMux()
	gw.mux.HandleFunc("/ws", gw.handleWebSocket)
	gw.mux.HandleFunc("/health", gw.handleHealth)
	gw.mux.HandleFunc("/health/ready", gw.handleReady)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Mux exposes the Gateway's ServeMux so cmd/chat-gateway can register the
// REST companion surface (internal/restapi) on the same listener before
// calling Run.
func (g *Gateway) Mux() *http.ServeMux {
	return g.mux
}

// Store, Router, Tracker, Push, AuthVerifier, and Validator expose the
// components the Gateway built so internal/restapi can share the exact same
// instances rather than standing up a second copy of each.
func (g *Gateway) Store() store.Store                 { return g.store }
func (g *Gateway) Router() *conversation.Router        { return g.router }
func (g *Gateway) Tracker() *delivery.Tracker          { return g.tracker }
func (g *Gateway) Push() *push.Dispatcher              { return g.push }
func (g *Gateway) AuthVerifier() *auth.JWTVerifier     { return g.authVerifier }
func (g *Gateway) Validator() *validator.Validate      { return g.validator }
func (g *Gateway) Presence() *presence.Registry        { return g.presence }
func (g *Gateway) Pipeline() *ephemeral.Pipeline       { return g.pipeline }

// onPresenceChange is the Presence Registry's ChangeHandler: it computes the
// observable-by set via the Conversation Router's participant index and
// hands each peer's update to the Ephemeral Pipeline's presence batch
// window (§4.2 "broadcast only to the subset of users whose live session
// list overlaps").
func (g *Gateway) onPresenceChange(ctx context.Context, change presence.Change) {
	convs, err := g.store.ListConversationsForUser(ctx, change.UserID)
	if err != nil {
		g.logger.Warn("presence fan-out: listing conversations failed", "error", err, "user_id", change.UserID)
		return
	}
	seen := make(map[string]bool)
	for _, conv := range convs {
		participants, err := g.router.Participants(ctx, conv.ID)
		if err != nil {
			continue
		}
		for _, peer := range participants {
			if peer == change.UserID || seen[peer] {
				continue
			}
			seen[peer] = true
			g.pipeline.QueuePresenceUpdate(ctx, peer, ephemeral.PresenceUpdate{
				UserID:        change.UserID,
				Status:        string(change.Status),
				CustomMessage: change.CustomMessage,
				CustomEmoji:   change.CustomEmoji,
			})
		}
	}
}

// handleWebSocket upgrades the HTTP request, authenticates the handshake's
// bearer credential, and runs the session until the transport closes.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := g.authenticateHandshake(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := g.store.GetUser(r.Context(), userID); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return
	}

	sessionID := uuid.New().String()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := newSession(ctx, sessionID, userID, conn, g.sessions.broadcaster, g.logger, func(ctx context.Context, messageID, recipientID string) {
		if err := g.tracker.AdvanceToDelivered(ctx, messageID, recipientID); err != nil {
			g.logger.Debug("advance to delivered failed", "error", err, "message_id", messageID)
		}
	})
	g.sessions.add(sess)
	g.presence.SessionOpened(ctx, userID, sessionID, r.RemoteAddr)

	go sess.writePump(ctx)

	if err := g.offline.Drain(ctx, userID, sessionID); err != nil {
		g.logger.Warn("offline drain failed", "error", err, "user_id", userID)
	}

	sess.readLoop(ctx, func(ctx context.Context, data []byte) {
		g.handleFrame(ctx, sess, data)
	})

	g.presence.SessionClosed(ctx, sessionID)
	g.pipeline.DropSession(sessionID)
	g.sessions.remove(sessionID)
	sess.close(g.sessions.broadcaster, "session ended")
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// setupTCPListener opens a plain TCP listener on the configured address.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	return net.Listen("tcp", g.cfg.Server.HTTPAddr)
}

// setupTailscaleListener brings up a tsnet node and returns its HTTP(S)
// listener, mirroring the teacher's Tailscale overlay (optional, off by
// default).
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.cfg.Tailscale

	stateDir := tsCfg.StateDir
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory for tailscale state: %w", err)
		}
		stateDir = filepath.Join(homeDir, ".local", "share", "chat-core", "tailscale")
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := tsCfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}
	if _, err := g.tsnetServer.Up(ctx); err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	switch {
	case tsCfg.Funnel:
		return g.tsnetServer.ListenFunnel("tcp", ":443")
	case tsCfg.HTTPS:
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		return g.tsnetServer.Listen("tcp", ":80")
	}
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.cfg.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP/WebSocket server and blocks until ctx is canceled or
// the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, shutting down")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops accepting new connections, closes live sessions, and
// releases every component that owns a background goroutine or resource.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.sessions.mu.RLock()
	for _, sess := range g.sessions.byID {
		sess.close(g.sessions.broadcaster, "server shutting down")
	}
	g.sessions.mu.RUnlock()
	g.sessions.broadcaster.Close()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if g.housekeeper != nil {
		g.housekeeper.Stop()
	}
	g.offline.Close()
	if err := g.presence.Close(); err != nil {
		errs = append(errs, fmt.Errorf("presence close: %w", err))
	}
	if g.bus != nil {
		if err := g.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func generateInstanceID() string {
	return fmt.Sprintf("chat-core-%d", time.Now().UnixNano()%1_000_000)
}
