package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/2389/chat-core/internal/model"
	"github.com/2389/chat-core/internal/store"
)

// EventKind classifies the signals the Dispatcher may be asked to push.
type EventKind string

const (
	EventMessage        EventKind = "message"
	EventMention        EventKind = "mention"
	EventReaction       EventKind = "reaction"
	EventContactRequest EventKind = "contact-request"
	EventTyping         EventKind = "typing"
	EventPresence       EventKind = "presence"
	EventReadReceipt    EventKind = "read-receipt"
)

// IsPushable reports whether kind is ever a candidate for a push
// notification intent (§4.7 classification table).
func IsPushable(kind EventKind) bool {
	switch kind {
	case EventMessage, EventMention, EventReaction, EventContactRequest:
		return true
	default:
		return false
	}
}

// Intent is a candidate notification produced by the Conversation Router
// for a recipient the Gateway could not reach in-session.
type Intent struct {
	Kind           EventKind
	RecipientID    string
	SenderID       string
	ConversationID string
	MessageID      string
	Title          string
	Body           string
	Urgent         bool
	At             time.Time
}

// ErrSubscriptionGone signals a 404/410-class transport response: the
// endpoint is permanently dead and must be evicted (§3 PushSubscription
// invariant).
var ErrSubscriptionGone = errors.New("push subscription gone")

// Transport sends one payload to one subscription. WebPushTransport is the
// production implementation; tests supply a fake.
type Transport interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload []byte) error
}

// Metrics records one delivery-attempt observation for the observability
// collaborator (§4.7 "records a delivery-attempt metric").
type Metrics interface {
	RecordPushAttempt(success bool, failureReason string, latency time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordPushAttempt(bool, string, time.Duration) {}

// Config tunes retry behavior.
type Config struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// Dispatcher is the Push Dispatcher (component G).
type Dispatcher struct {
	store     store.Store
	transport Transport
	metrics   Metrics
	logger    *slog.Logger
	cfg       Config
}

// New builds a Dispatcher. metrics may be nil to discard observations.
func New(s store.Store, transport Transport, metrics Metrics, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     s,
		transport: transport,
		metrics:   metrics,
		logger:    logger.With("component", "push"),
		cfg:       cfg,
	}
}

// Dispatch applies preferences and, if the intent survives, sends it to
// every subscription the recipient owns.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) error {
	if !IsPushable(intent.Kind) {
		return nil
	}

	settings, err := d.store.GetNotificationSettings(ctx, intent.RecipientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading notification settings: %w", err)
	}
	if settings != nil {
		if !settings.Enabled {
			return nil
		}
		if settings.MutedConvos != nil && settings.MutedConvos[intent.ConversationID] {
			return nil
		}
		if !intent.Urgent && inQuietHours(settings, intent.At) {
			return nil
		}
	}

	subs, err := d.store.ListPushSubscriptions(ctx, intent.RecipientID)
	if err != nil {
		return fmt.Errorf("loading push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(struct {
		Kind           string `json:"kind"`
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId,omitempty"`
		SenderID       string `json:"senderId,omitempty"`
		Title          string `json:"title"`
		Body           string `json:"body"`
	}{
		Kind:           string(intent.Kind),
		ConversationID: intent.ConversationID,
		MessageID:      intent.MessageID,
		SenderID:       intent.SenderID,
		Title:          intent.Title,
		Body:           intent.Body,
	})
	if err != nil {
		return fmt.Errorf("encoding push payload: %w", err)
	}

	for _, sub := range subs {
		d.sendWithRetry(ctx, sub, payload)
	}

	if intent.MessageID != "" {
		if err := d.store.RecordNotificationSent(ctx, intent.RecipientID, intent.MessageID, time.Now()); err != nil {
			d.logger.Error("failed recording notification history", "error", err)
		}
	}
	return nil
}

// sendWithRetry sends to one subscription, retrying transient failures with
// exponential backoff up to cfg.MaxRetries, and evicting the subscription
// on a permanent failure (§4.7).
func (d *Dispatcher) sendWithRetry(ctx context.Context, sub *model.PushSubscription, payload []byte) {
	backoff := d.cfg.BaseBackoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := d.transport.Send(ctx, sub, payload)
		latency := time.Since(start)

		if err == nil {
			d.metrics.RecordPushAttempt(true, "", latency)
			return
		}

		if errors.Is(err, ErrSubscriptionGone) {
			d.metrics.RecordPushAttempt(false, "gone", latency)
			if delErr := d.store.DeletePushSubscription(ctx, sub.ID); delErr != nil {
				d.logger.Error("failed evicting gone subscription", "error", delErr, "subscription_id", sub.ID)
			}
			return
		}

		d.metrics.RecordPushAttempt(false, "transient", latency)
		if attempt >= d.cfg.MaxRetries {
			d.logger.Warn("push delivery exhausted retries, dropping intent", "subscription_id", sub.ID, "error", err)
			if failErr := d.store.RecordPushFailure(ctx, sub.ID, time.Now()); failErr != nil {
				d.logger.Error("failed recording push failure", "error", failErr)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// inQuietHours reports whether at falls within the user's configured
// quiet-hours window, which may wrap midnight (e.g. 22:00-07:00).
func inQuietHours(s *model.NotificationSettings, at time.Time) bool {
	if s.QuietHoursStart == "" || s.QuietHoursEnd == "" {
		return false
	}
	start, ok1 := parseClock(s.QuietHoursStart)
	end, ok2 := parseClock(s.QuietHoursEnd)
	if !ok1 || !ok2 {
		return false
	}
	cur := at.Hour()*60 + at.Minute()
	if start == end {
		return false
	}
	if start < end {
		return cur >= start && cur < end
	}
	// Window wraps midnight.
	return cur >= start || cur < end
}

// parseClock parses "HH:MM" local time into minutes since midnight.
func parseClock(v string) (int, bool) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
