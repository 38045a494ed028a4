package ephemeral

import (
	"context"
	"sync"
	"time"
)

// Emitter delivers the signals the Pipeline decides to let through.
type Emitter interface {
	EmitTyping(ctx context.Context, conversationID, userID string, on bool)
	EmitReadReceiptThrottled(ctx context.Context, recipientID, senderID, messageID string)
	EmitPresenceBatch(ctx context.Context, recipientID string, updates map[string]PresenceUpdate)
	EmitReactionBatch(ctx context.Context, messageID string, updates []ReactionUpdate)
}

// PresenceUpdate is one peer's coalesced status within a batch window.
type PresenceUpdate struct {
	UserID        string
	Status        string
	CustomMessage string
	CustomEmoji   string
}

// ReactionUpdate is one coalesced reaction add/remove within a batch window.
type ReactionUpdate struct {
	UserID string
	Emoji  string
	Add    bool
}

// Config tunes every policy window in the table at §4.5.
type Config struct {
	TypingDebounce      time.Duration
	ReadReceiptThrottle time.Duration
	PresenceBatch       time.Duration
	ReactionBatch       time.Duration
	RateLimitPerSecond  int
}

// Pipeline is the Ephemeral Signal Pipeline (component E).
type Pipeline struct {
	cfg     Config
	emitter Emitter

	typingMu     sync.Mutex
	typingStates map[string]*typingState

	throttleMu     sync.Mutex
	throttleStates map[string]*throttleState

	presenceMu    sync.Mutex
	presenceBatch map[string]*presenceBatchState

	reactionMu    sync.Mutex
	reactionBatch map[string]*reactionBatchState

	rateMu    sync.Mutex
	rateState map[string]*rateWindow
}

// New builds a Pipeline. emitter receives whatever the policies let through.
func New(cfg Config, emitter Emitter) *Pipeline {
	if cfg.TypingDebounce <= 0 {
		cfg.TypingDebounce = 300 * time.Millisecond
	}
	if cfg.ReadReceiptThrottle <= 0 {
		cfg.ReadReceiptThrottle = 200 * time.Millisecond
	}
	if cfg.PresenceBatch <= 0 {
		cfg.PresenceBatch = 100 * time.Millisecond
	}
	if cfg.ReactionBatch <= 0 {
		cfg.ReactionBatch = 50 * time.Millisecond
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}
	return &Pipeline{
		cfg:            cfg,
		emitter:        emitter,
		typingStates:   make(map[string]*typingState),
		throttleStates: make(map[string]*throttleState),
		presenceBatch:  make(map[string]*presenceBatchState),
		reactionBatch:  make(map[string]*reactionBatchState),
		rateState:      make(map[string]*rateWindow),
	}
}

// ---- rate limiting ----

type rateWindow struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Allow reports whether sessionID may emit another signal this second.
// Exceeding the limit causes the frame to be dropped silently, per §4.5.
func (p *Pipeline) Allow(sessionID string) bool {
	p.rateMu.Lock()
	rw, ok := p.rateState[sessionID]
	if !ok {
		rw = &rateWindow{}
		p.rateState[sessionID] = rw
	}
	p.rateMu.Unlock()

	rw.mu.Lock()
	defer rw.mu.Unlock()
	now := time.Now()
	if now.Sub(rw.windowStart) >= time.Second {
		rw.windowStart = now
		rw.count = 0
	}
	if rw.count >= p.cfg.RateLimitPerSecond {
		return false
	}
	rw.count++
	return true
}

// DropSession releases the per-session rate-limit state of a closed
// session; typing state is not released here.
func (p *Pipeline) DropSession(sessionID string) {
	p.rateMu.Lock()
	delete(p.rateState, sessionID)
	p.rateMu.Unlock()
}

// ---- typing debounce & coalescing ----

type typingState struct {
	mu        sync.Mutex
	timer     *time.Timer
	pendingOn bool
	sentOn    bool
}

func (p *Pipeline) typingKey(sessionID, conversationID string) string {
	return sessionID + "\x00" + conversationID
}

func (p *Pipeline) typingStateFor(key string) *typingState {
	p.typingMu.Lock()
	defer p.typingMu.Unlock()
	st, ok := p.typingStates[key]
	if !ok {
		st = &typingState{}
		p.typingStates[key] = st
	}
	return st
}

// TypingOn debounces a typing-on signal with a trailing edge: it only fires
// if no typing-off or message arrives within TypingDebounce.
func (p *Pipeline) TypingOn(ctx context.Context, sessionID, conversationID, userID string) {
	key := p.typingKey(sessionID, conversationID)
	st := p.typingStateFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.pendingOn = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(p.cfg.TypingDebounce, func() {
		st.mu.Lock()
		shouldSend := st.pendingOn
		st.pendingOn = false
		if shouldSend {
			st.sentOn = true
		}
		st.mu.Unlock()
		if shouldSend {
			p.emitter.EmitTyping(ctx, conversationID, userID, true)
		}
	})
}

// TypingOff is immediate but coalesced with any pending on: if typing-on
// never fired, typing-off produces no frame either (§4.5 coalescing rule).
func (p *Pipeline) TypingOff(ctx context.Context, sessionID, conversationID, userID string) {
	key := p.typingKey(sessionID, conversationID)
	st := p.typingStateFor(key)

	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	wasPendingUnsent := st.pendingOn && !st.sentOn
	st.pendingOn = false
	sentOn := st.sentOn
	st.sentOn = false
	st.mu.Unlock()

	if wasPendingUnsent {
		return // typing-on+off within the window: neither is sent.
	}
	if sentOn {
		p.emitter.EmitTyping(ctx, conversationID, userID, false)
	}
}

// SuppressForMessage cancels any pending typing-on for this session and
// conversation without emitting it: the message itself makes typing
// implicit (§4.5).
func (p *Pipeline) SuppressForMessage(sessionID, conversationID string) {
	key := p.typingKey(sessionID, conversationID)
	p.typingMu.Lock()
	st, ok := p.typingStates[key]
	p.typingMu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.pendingOn = false
}

// ---- read-receipt throttle (leading + trailing) ----

type throttleState struct {
	mu       sync.Mutex
	lastFire time.Time
	timer    *time.Timer
	pending  func()
}

// ReadReceipt throttles read-receipt(messageId) forwarding to at most one
// per (recipient, sender) pair per ReadReceiptThrottle window, leading and
// trailing: the first call in a burst fires immediately, the last call
// still fires at the end of the window.
func (p *Pipeline) ReadReceipt(ctx context.Context, recipientID, senderID, messageID string) {
	key := recipientID + "\x00" + senderID
	p.throttle(key, p.cfg.ReadReceiptThrottle, func() {
		p.emitter.EmitReadReceiptThrottled(ctx, recipientID, senderID, messageID)
	})
}

func (p *Pipeline) throttle(key string, window time.Duration, fn func()) {
	p.throttleMu.Lock()
	st, ok := p.throttleStates[key]
	if !ok {
		st = &throttleState{}
		p.throttleStates[key] = st
	}
	p.throttleMu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	if st.lastFire.IsZero() || now.Sub(st.lastFire) >= window {
		st.lastFire = now
		st.pending = nil
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		fn()
		return
	}

	st.pending = fn
	if st.timer == nil {
		remaining := window - now.Sub(st.lastFire)
		st.timer = time.AfterFunc(remaining, func() {
			st.mu.Lock()
			pending := st.pending
			st.pending = nil
			st.timer = nil
			st.lastFire = time.Now()
			st.mu.Unlock()
			if pending != nil {
				pending()
			}
		})
	}
}

// ---- presence batch window ----

type presenceBatchState struct {
	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]PresenceUpdate
}

// QueuePresenceUpdate queues a presence change destined for recipientID, coalesced
// per peer within the PresenceBatch window so a flapping contact produces
// at most one frame per window.
func (p *Pipeline) QueuePresenceUpdate(ctx context.Context, recipientID string, update PresenceUpdate) {
	p.presenceMu.Lock()
	st, ok := p.presenceBatch[recipientID]
	if !ok {
		st = &presenceBatchState{pending: make(map[string]PresenceUpdate)}
		p.presenceBatch[recipientID] = st
	}
	p.presenceMu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending[update.UserID] = update
	if st.timer == nil {
		st.timer = time.AfterFunc(p.cfg.PresenceBatch, func() {
			st.mu.Lock()
			batch := st.pending
			st.pending = make(map[string]PresenceUpdate)
			st.timer = nil
			st.mu.Unlock()
			if len(batch) > 0 {
				p.emitter.EmitPresenceBatch(ctx, recipientID, batch)
			}
		})
	}
}

// ---- reaction batch window ----

type reactionBatchState struct {
	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]ReactionUpdate // keyed by userID+emoji
}

// QueueReaction batches reaction add/remove broadcasts per message within
// the ReactionBatch window, so rapid toggling collapses to the net state
// per (user, emoji) rather than flooding recipients with every toggle.
func (p *Pipeline) QueueReaction(ctx context.Context, messageID string, update ReactionUpdate) {
	p.reactionMu.Lock()
	st, ok := p.reactionBatch[messageID]
	if !ok {
		st = &reactionBatchState{pending: make(map[string]ReactionUpdate)}
		p.reactionBatch[messageID] = st
	}
	p.reactionMu.Unlock()

	key := update.UserID + "\x00" + update.Emoji
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending[key] = update
	if st.timer == nil {
		st.timer = time.AfterFunc(p.cfg.ReactionBatch, func() {
			st.mu.Lock()
			updates := make([]ReactionUpdate, 0, len(st.pending))
			for _, u := range st.pending {
				updates = append(updates, u)
			}
			st.pending = make(map[string]ReactionUpdate)
			st.timer = nil
			st.mu.Unlock()
			if len(updates) > 0 {
				p.emitter.EmitReactionBatch(ctx, messageID, updates)
			}
		})
	}
}
