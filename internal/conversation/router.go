// ABOUTME: Conversation Router (component C) — membership cache and event dispatch.
// ABOUTME: Fans a single event out to local sessions, remote instances, or the offline path.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-core/internal/cache"
	"github.com/2389/chat-core/internal/delivery"
	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/offlinequeue"
	"github.com/2389/chat-core/internal/presence"
	"github.com/2389/chat-core/internal/push"
	"github.com/2389/chat-core/internal/store"
)

const defaultMembershipTTL = 30 * time.Second

// SessionDispatcher is the Session Gateway's outbound-queue hand-off. The
// Router never writes to a transport directly; it only decides routing.
type SessionDispatcher interface {
	SendToSession(ctx context.Context, sessionID string, payload []byte) error
}

// MessageSessionDispatcher is the optional refinement a SessionDispatcher may
// implement to be told which message a frame carries, so it can advance the
// Delivery Tracker to `delivered` once the frame is actually written to the
// live socket. The Gateway implements this; the Router falls back to plain
// SendToSession (and therefore to sent-only tracking) when it does not.
type MessageSessionDispatcher interface {
	SendMessageToSession(ctx context.Context, sessionID, messageID string, payload []byte) error
}

// PresenceLookup is the subset of presence.Registry the Router needs.
type PresenceLookup interface {
	SessionsFor(userID string) []string
	RemoteInstance(ctx context.Context, userID string) (string, bool)
}

var _ PresenceLookup = (*presence.Registry)(nil)

// Event is one signal the Router fans out to a conversation's participants.
// Callers (the Session Gateway's inbound handler, the REST layer) construct
// Event after validating and persisting their side of the operation; the
// Router's only job is routing.
type Event struct {
	Kind           push.EventKind
	ConversationID string
	OriginUserID   string
	Payload        []byte // serialized wire frame handed to local sessions and the cross-process bus
	Message        *model.Message // non-nil for Kind == push.EventMessage
	PushTitle      string
	PushBody       string
	Urgent         bool
}

type conversationState struct {
	mu           sync.Mutex
	participants []string
	expiresAt    time.Time
}

// Router is the Conversation Router.
type Router struct {
	store     store.Store
	presence  PresenceLookup
	sessions  SessionDispatcher
	bus       cache.Cache
	tracker   *delivery.Tracker
	offline   *offlinequeue.Queue
	push      *push.Dispatcher
	logger    *slog.Logger

	membershipTTL time.Duration
	membershipMu  sync.Mutex
	membership    map[string]*conversationState
}

// Config bundles Router construction parameters. Sessions, Bus, and Push may
// be nil in single-process/no-push deployments; dispatch then simply skips
// the corresponding route.
type Config struct {
	Store         store.Store
	Presence      PresenceLookup
	Sessions      SessionDispatcher
	Bus           cache.Cache
	Tracker       *delivery.Tracker
	Offline       *offlinequeue.Queue
	Push          *push.Dispatcher
	MembershipTTL time.Duration
	Logger        *slog.Logger
}

// New builds a Router.
func New(cfg Config) *Router {
	if cfg.MembershipTTL <= 0 {
		cfg.MembershipTTL = defaultMembershipTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		store:         cfg.Store,
		presence:      cfg.Presence,
		sessions:      cfg.Sessions,
		bus:           cfg.Bus,
		tracker:       cfg.Tracker,
		offline:       cfg.Offline,
		push:          cfg.Push,
		logger:        cfg.Logger.With("component", "conversation"),
		membershipTTL: cfg.MembershipTTL,
		membership:    make(map[string]*conversationState),
	}
}

func (r *Router) stateFor(conversationID string) *conversationState {
	r.membershipMu.Lock()
	defer r.membershipMu.Unlock()

	s, ok := r.membership[conversationID]
	if !ok {
		s = &conversationState{}
		r.membership[conversationID] = s
	}
	return s
}

// participants returns the cached participant list for conversationID,
// reloading from the repository if the cache entry is missing or stale.
// Locking the per-conversation state for the duration of the read serves
// §4.3's "membership mutations MUST be linearized" requirement: a mutation
// in flight on the same conversation blocks a concurrent read until it
// completes, and vice versa.
func (r *Router) participants(ctx context.Context, conversationID string) ([]string, error) {
	s := r.stateFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Before(s.expiresAt) {
		return append([]string(nil), s.participants...), nil
	}

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation membership: %w", err)
	}
	s.participants = conv.Participants
	s.expiresAt = time.Now().Add(r.membershipTTL)
	return append([]string(nil), s.participants...), nil
}

// Participants returns the current participant list for conversationID,
// served from the TTL cache like Dispatch's own lookup. Used by the Session
// Gateway to compute a presence change's observable-by set (§4.2's "reverse
// participant → conversations mapping").
func (r *Router) Participants(ctx context.Context, conversationID string) ([]string, error) {
	return r.participants(ctx, conversationID)
}

// AddParticipant adds userID to conversationID, serialized against any
// concurrent mutation or read of the same conversation's membership.
func (r *Router) AddParticipant(ctx context.Context, conversationID, userID string) error {
	s := r.stateFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := r.store.AddParticipant(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	for _, id := range s.participants {
		if id == userID {
			return nil
		}
	}
	s.participants = append(s.participants, userID)
	return nil
}

// RemoveParticipant removes userID from conversationID under the same
// linearization as AddParticipant.
func (r *Router) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	s := r.stateFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := r.store.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}
	filtered := s.participants[:0:0]
	for _, id := range s.participants {
		if id != userID {
			filtered = append(filtered, id)
		}
	}
	s.participants = filtered
	return nil
}

// CreateDirect returns the existing direct conversation between userA and
// userB, or creates one (Open Question #1 resolved: direct conversations are
// deduplicated per unordered pair; see DESIGN.md).
func (r *Router) CreateDirect(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	existing, err := r.store.GetDirectConversation(ctx, userA, userB)
	if err == nil {
		return existing, nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("looking up direct conversation: %w", err)
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:             uuid.New().String(),
		Kind:           model.ConversationDirect,
		Participants:   []string{userA, userB},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		if err == store.ErrDuplicateConversation {
			return r.store.GetDirectConversation(ctx, userA, userB)
		}
		return nil, fmt.Errorf("creating direct conversation: %w", err)
	}
	return conv, nil
}

// CreateGroup creates a new group conversation with the given participants.
func (r *Router) CreateGroup(ctx context.Context, displayName string, participantIDs []string) (*model.Conversation, error) {
	now := time.Now()
	conv := &model.Conversation{
		ID:             uuid.New().String(),
		Kind:           model.ConversationGroup,
		DisplayName:    displayName,
		Participants:   participantIDs,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating group conversation: %w", err)
	}
	return conv, nil
}

// instanceChannel names the cross-process pub/sub channel each process
// subscribes to at startup (§4.3.1).
func instanceChannel(instanceID string) string {
	return "instance:" + instanceID
}

// Dispatch routes event to every participant of event.ConversationID other
// than its origin, per §4.3's three-way local/remote/offline decision, then
// informs the Delivery Tracker for message-kind events.
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	participants, err := r.participants(ctx, event.ConversationID)
	if err != nil {
		return err
	}

	isMessage := event.Kind == push.EventMessage && event.Message != nil
	if isMessage && r.tracker != nil {
		for _, recipient := range participants {
			if recipient == event.OriginUserID {
				continue
			}
			if err := r.tracker.CreateQueued(ctx, event.Message, recipient); err != nil {
				r.logger.Error("failed creating queued delivery record", "error", err, "message_id", event.Message.ID)
			}
		}
	}

	if err := r.store.TouchConversation(ctx, event.ConversationID, time.Now()); err != nil {
		r.logger.Warn("failed touching conversation activity", "error", err, "conversation_id", event.ConversationID)
	}

	for _, recipient := range participants {
		if recipient == event.OriginUserID {
			continue
		}
		r.routeToRecipient(ctx, event, recipient, isMessage)
	}
	return nil
}

func (r *Router) routeToRecipient(ctx context.Context, event Event, recipient string, isMessage bool) {
	if sessionIDs := r.localSessionsFor(recipient); len(sessionIDs) > 0 {
		delivered := false
		for _, sessionID := range sessionIDs {
			if err := r.sendToSession(ctx, sessionID, event, isMessage); err != nil {
				r.logger.Debug("local session send failed", "error", err, "session_id", sessionID)
				continue
			}
			delivered = true
		}
		if delivered {
			r.advanceSent(ctx, event, isMessage, recipient)
			return
		}
	}

	if r.presence != nil && r.bus != nil {
		if instanceID, ok := r.presence.RemoteInstance(ctx, recipient); ok {
			if err := r.bus.Publish(ctx, instanceChannel(instanceID), event.Payload); err != nil {
				r.logger.Warn("cross-process publish failed", "error", err, "instance_id", instanceID)
			} else {
				r.advanceSent(ctx, event, isMessage, recipient)
				return
			}
		}
	}

	r.routeOffline(ctx, event, recipient, isMessage)
}

// sendToSession hands event.Payload to sessionID, passing the message id
// along when the dispatcher supports it so it can confirm the actual
// transport write before advancing the Delivery Tracker to `delivered`.
func (r *Router) sendToSession(ctx context.Context, sessionID string, event Event, isMessage bool) error {
	if isMessage {
		if md, ok := r.sessions.(MessageSessionDispatcher); ok {
			return md.SendMessageToSession(ctx, sessionID, event.Message.ID, event.Payload)
		}
	}
	return r.sessions.SendToSession(ctx, sessionID, event.Payload)
}

func (r *Router) localSessionsFor(userID string) []string {
	if r.presence == nil || r.sessions == nil {
		return nil
	}
	return r.presence.SessionsFor(userID)
}

func (r *Router) advanceSent(ctx context.Context, event Event, isMessage bool, recipient string) {
	if !isMessage || r.tracker == nil {
		return
	}
	if err := r.tracker.AdvanceToSent(ctx, event.Message.ID, recipient); err != nil {
		r.logger.Error("failed advancing delivery to sent", "error", err, "message_id", event.Message.ID)
	}
}

func (r *Router) routeOffline(ctx context.Context, event Event, recipient string, isMessage bool) {
	if r.offline != nil {
		item := &model.OfflineItem{
			ID:             uuid.New().String(),
			RecipientID:    recipient,
			ConversationID: event.ConversationID,
			EventType:      string(event.Kind),
			Payload:        event.Payload,
			EnqueuedAt:     time.Now(),
		}
		if isMessage {
			item.MessageID = event.Message.ID
		}
		if err := r.offline.Enqueue(ctx, item); err != nil {
			r.logger.Error("failed enqueueing offline item", "error", err, "recipient", recipient)
		} else {
			r.advanceSent(ctx, event, isMessage, recipient)
		}
	}

	if r.push != nil && push.IsPushable(event.Kind) {
		intent := push.Intent{
			Kind:           event.Kind,
			RecipientID:    recipient,
			SenderID:       event.OriginUserID,
			ConversationID: event.ConversationID,
			Title:          event.PushTitle,
			Body:           event.PushBody,
			Urgent:         event.Urgent,
			At:             time.Now(),
		}
		if isMessage {
			intent.MessageID = event.Message.ID
		}
		if err := r.push.Dispatch(ctx, intent); err != nil {
			r.logger.Error("failed dispatching push intent", "error", err, "recipient", recipient)
		}
	}
}
