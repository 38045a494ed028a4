// ABOUTME: Presence Registry (component B) — user<->session indexes, grace-period
// ABOUTME: offline detection, away inference, and a cross-process cache mirror.

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chat-core/internal/cache"
	"github.com/2389/chat-core/internal/model"
)

const shardCount = 16

// Change describes a presence transition the Registry wants fanned out to
// every user sharing a conversation with the subject (§4.2 "presence
// changes are broadcast only to the subset of users whose live session list
// overlaps"). The Registry itself has no notion of conversations; it hands
// the change to a ChangeHandler supplied at construction, which the wiring
// layer implements against the Conversation Router's reverse index.
type Change struct {
	UserID        string
	Status        model.PresenceStatus
	CustomMessage string
	CustomEmoji   string
	At            time.Time
}

// ChangeHandler is invoked whenever a user's presence changes. Implementations
// must not block the Registry for long; they are called synchronously from
// whichever goroutine observed the transition (session open/close, status
// write, or the away-sweep ticker).
type ChangeHandler func(ctx context.Context, change Change)

// StatusInfo is the snapshot answer for one user.
type StatusInfo struct {
	Status        model.PresenceStatus
	CustomMessage string
	CustomEmoji   string
}

type userState struct {
	sessions       map[string]struct{}
	declaredStatus model.PresenceStatus
	customMessage  string
	customEmoji    string
	effective      model.PresenceStatus
	lastActivityAt time.Time
	offlineTimer   *time.Timer
}

type shard struct {
	mu    sync.Mutex
	users map[string]*userState
}

// Registry is the Presence Registry. Construct with New and call Close when
// the owning process shuts down to stop the away-sweep and mirror-renewal
// goroutines.
type Registry struct {
	shards        [shardCount]*shard
	sessionOwner  sync.Map // sessionID -> userID
	cache         cache.Cache
	instanceID    string
	gracePeriod   time.Duration
	awayThreshold time.Duration
	onChange      ChangeHandler
	logger        *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config bundles Registry construction parameters.
type Config struct {
	Cache         cache.Cache
	InstanceID    string
	GracePeriod   time.Duration
	AwayThreshold time.Duration
	OnChange      ChangeHandler
	Logger        *slog.Logger
}

// New builds a Registry. Cache may be nil to disable cross-process mirroring
// (single-instance deployments); OnChange may be nil to discard change events
// (useful in tests that only assert on Snapshot).
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	if cfg.AwayThreshold <= 0 {
		cfg.AwayThreshold = 10 * time.Minute
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(context.Context, Change) {}
	}

	r := &Registry{
		cache:         cfg.Cache,
		instanceID:    cfg.InstanceID,
		gracePeriod:   cfg.GracePeriod,
		awayThreshold: cfg.AwayThreshold,
		onChange:      cfg.OnChange,
		logger:        cfg.Logger.With("component", "presence"),
		stop:          make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]*userState)}
	}

	r.wg.Add(1)
	go r.awaySweepLoop()
	if r.cache != nil {
		r.wg.Add(1)
		go r.mirrorRenewalLoop()
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	var h uint32
	for i := 0; i < len(userID); i++ {
		h = h*31 + uint32(userID[i])
	}
	return r.shards[h%shardCount]
}

// SessionOpened registers sessionID as belonging to userID. If this is the
// user's first session, status transitions to online and a Change is
// emitted.
func (r *Registry) SessionOpened(ctx context.Context, userID, sessionID, endpoint string) {
	_ = endpoint
	s := r.shardFor(userID)
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		u = &userState{sessions: make(map[string]struct{})}
		s.users[userID] = u
	}
	firstSession := len(u.sessions) == 0
	if u.offlineTimer != nil {
		u.offlineTimer.Stop()
		u.offlineTimer = nil
	}
	u.sessions[sessionID] = struct{}{}
	u.lastActivityAt = time.Now()
	if firstSession {
		u.declaredStatus = model.PresenceOnline
		u.effective = model.PresenceOnline
	}
	changed := firstSession
	status, custom, emoji := u.effective, u.customMessage, u.customEmoji
	s.mu.Unlock()

	r.sessionOwner.Store(sessionID, userID)
	r.mirror(ctx, userID, status, custom, emoji)

	if changed {
		r.emit(ctx, userID, status, custom, emoji)
	}
}

// SessionClosed removes sessionID. If the user has no sessions left, a grace
// timer is scheduled; offline is only asserted (and fanned out) once the
// timer fires without an intervening SessionOpened.
func (r *Registry) SessionClosed(ctx context.Context, sessionID string) {
	userIDVal, ok := r.sessionOwner.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	userID := userIDVal.(string)

	s := r.shardFor(userID)
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(u.sessions, sessionID)
	lastSession := len(u.sessions) == 0
	if lastSession {
		if u.offlineTimer != nil {
			u.offlineTimer.Stop()
		}
		u.offlineTimer = time.AfterFunc(r.gracePeriod, func() {
			r.fireGraceExpiry(userID)
		})
	}
	s.mu.Unlock()
}

// fireGraceExpiry marks userID offline if it still has no sessions.
func (r *Registry) fireGraceExpiry(userID string) {
	s := r.shardFor(userID)
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok || len(u.sessions) > 0 {
		s.mu.Unlock()
		return
	}
	u.declaredStatus = model.PresenceOffline
	u.effective = model.PresenceOffline
	u.offlineTimer = nil
	s.mu.Unlock()

	ctx := context.Background()
	r.mirrorDelete(ctx, userID)
	r.emit(ctx, userID, model.PresenceOffline, "", "")
}

// SetStatus is the user-initiated override (§4.2 setStatus).
func (r *Registry) SetStatus(ctx context.Context, userID string, status model.PresenceStatus, customMessage, customEmoji string) {
	s := r.shardFor(userID)
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		u = &userState{sessions: make(map[string]struct{})}
		s.users[userID] = u
	}
	u.declaredStatus = status
	u.effective = status
	u.customMessage = customMessage
	u.customEmoji = customEmoji
	u.lastActivityAt = time.Now()
	s.mu.Unlock()

	r.mirror(ctx, userID, status, customMessage, customEmoji)
	r.emit(ctx, userID, status, customMessage, customEmoji)
}

// Touch records activity, resetting the away timer and reverting an away
// user back to online.
func (r *Registry) Touch(ctx context.Context, userID string) {
	s := r.shardFor(userID)
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	u.lastActivityAt = time.Now()
	revert := u.effective == model.PresenceAway && u.declaredStatus == model.PresenceOnline
	if revert {
		u.effective = model.PresenceOnline
	}
	status, custom, emoji := u.effective, u.customMessage, u.customEmoji
	s.mu.Unlock()

	if revert {
		r.mirror(ctx, userID, status, custom, emoji)
		r.emit(ctx, userID, status, custom, emoji)
	}
}

// Snapshot returns the current status for each requested user. Users with
// no local state are resolved through the cross-process mirror; a mirror
// read failure reports PresenceUnknown rather than a false offline, per §4.2
// failure semantics.
func (r *Registry) Snapshot(ctx context.Context, userIDs []string) map[string]StatusInfo {
	out := make(map[string]StatusInfo, len(userIDs))
	for _, userID := range userIDs {
		s := r.shardFor(userID)
		s.mu.Lock()
		u, ok := s.users[userID]
		var info StatusInfo
		if ok {
			info = StatusInfo{Status: u.effective, CustomMessage: u.customMessage, CustomEmoji: u.customEmoji}
		}
		s.mu.Unlock()

		if ok {
			out[userID] = info
			continue
		}
		out[userID] = r.mirrorLookup(ctx, userID)
	}
	return out
}

// SessionsFor returns the session ids this process currently owns for userID
// (used by the Conversation Router to decide whether to dispatch locally).
func (r *Registry) SessionsFor(userID string) []string {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(u.sessions))
	for id := range u.sessions {
		out = append(out, id)
	}
	return out
}

// IsOnlineLocally reports whether userID has at least one session on this
// process.
func (r *Registry) IsOnlineLocally(userID string) bool {
	return len(r.SessionsFor(userID)) > 0
}

// Close stops background goroutines.
func (r *Registry) Close() error {
	close(r.stop)
	r.wg.Wait()
	return nil
}

func (r *Registry) emit(ctx context.Context, userID string, status model.PresenceStatus, custom, emoji string) {
	r.onChange(ctx, Change{UserID: userID, Status: status, CustomMessage: custom, CustomEmoji: emoji, At: time.Now()})
}

// mirrorPayload is the JSON shape written to the shared cache.
type mirrorPayload struct {
	Status        model.PresenceStatus `json:"status"`
	CustomMessage string                `json:"custom_message,omitempty"`
	CustomEmoji   string                `json:"custom_emoji,omitempty"`
	InstanceID    string                `json:"instance_id"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func mirrorKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

func (r *Registry) mirror(ctx context.Context, userID string, status model.PresenceStatus, custom, emoji string) {
	if r.cache == nil {
		return
	}
	payload, err := json.Marshal(mirrorPayload{
		Status:        status,
		CustomMessage: custom,
		CustomEmoji:   emoji,
		InstanceID:    r.instanceID,
		UpdatedAt:     time.Now(),
	})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, mirrorKey(userID), payload, 2*r.awaySweepInterval()); err != nil {
		r.logger.Warn("presence mirror write failed", "user_id", userID, "error", err)
	}
}

func (r *Registry) mirrorDelete(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, mirrorKey(userID)); err != nil {
		r.logger.Warn("presence mirror delete failed", "user_id", userID, "error", err)
	}
}

func (r *Registry) mirrorLookup(ctx context.Context, userID string) StatusInfo {
	if r.cache == nil {
		return StatusInfo{Status: model.PresenceOffline}
	}
	raw, err := r.cache.Get(ctx, mirrorKey(userID))
	if err != nil {
		if err == cache.ErrMiss {
			return StatusInfo{Status: model.PresenceOffline}
		}
		return StatusInfo{Status: model.PresenceUnknown}
	}
	var payload mirrorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return StatusInfo{Status: model.PresenceUnknown}
	}
	return StatusInfo{Status: payload.Status, CustomMessage: payload.CustomMessage, CustomEmoji: payload.CustomEmoji}
}

// RemoteInstance reports the instance id hosting userID's session when that
// user has no session on this process but the cross-process mirror shows
// them online elsewhere. Used by the Conversation Router to decide between
// a local hand-off and a publish onto the cross-process pub/sub bus (§4.3.1).
func (r *Registry) RemoteInstance(ctx context.Context, userID string) (string, bool) {
	if r.cache == nil || r.IsOnlineLocally(userID) {
		return "", false
	}
	raw, err := r.cache.Get(ctx, mirrorKey(userID))
	if err != nil {
		return "", false
	}
	var payload mirrorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false
	}
	if payload.InstanceID == "" || payload.InstanceID == r.instanceID {
		return "", false
	}
	return payload.InstanceID, true
}

func (r *Registry) awaySweepInterval() time.Duration {
	interval := r.awayThreshold / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// awaySweepLoop promotes online users past the away threshold to away.
func (r *Registry) awaySweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.awaySweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepAway()
		}
	}
}

func (r *Registry) sweepAway() {
	ctx := context.Background()
	now := time.Now()

	for _, sh := range r.shards {
		sh.mu.Lock()
		var toEmit []Change
		for userID, u := range sh.users {
			if u.effective == model.PresenceOnline && u.declaredStatus == model.PresenceOnline &&
				now.Sub(u.lastActivityAt) >= r.awayThreshold {
				u.effective = model.PresenceAway
				toEmit = append(toEmit, Change{UserID: userID, Status: model.PresenceAway, At: now})
			}
		}
		sh.mu.Unlock()

		for _, c := range toEmit {
			r.mirror(ctx, c.UserID, c.Status, "", "")
			r.emit(ctx, c.UserID, c.Status, "", "")
		}
	}
}

// mirrorRenewalLoop refreshes the cache TTL for every user with a live local
// session, so other instances keep seeing this instance's presence without
// every SessionOpened/Touch call re-publishing.
func (r *Registry) mirrorRenewalLoop() {
	defer r.wg.Done()
	interval := r.awaySweepInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.renewMirrors()
		}
	}
}

func (r *Registry) renewMirrors() {
	ctx := context.Background()
	for _, sh := range r.shards {
		sh.mu.Lock()
		type renewal struct {
			userID string
			status model.PresenceStatus
			custom string
			emoji  string
		}
		var renewals []renewal
		for userID, u := range sh.users {
			if len(u.sessions) > 0 {
				renewals = append(renewals, renewal{userID, u.effective, u.customMessage, u.customEmoji})
			}
		}
		sh.mu.Unlock()

		for _, rn := range renewals {
			r.mirror(ctx, rn.userID, rn.status, rn.custom, rn.emoji)
		}
	}
}
