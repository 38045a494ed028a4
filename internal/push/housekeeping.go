package push

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/chat-core/internal/store"
)

// Housekeeper runs the periodic maintenance named in §4.7.1: purging
// expired notification-history rows and proactively evicting push
// subscriptions that have gone stale, grounded on the cron-job pattern
// read from vison888-open-im-server and beeper-ai-bridge in the pack.
type Housekeeper struct {
	store      store.Store
	retention  time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	cron       *cron.Cron
}

// NewHousekeeper builds a Housekeeper. retention bounds notification
// history age; staleAfter is how long ago a subscription's last recorded
// delivery failure must be before its endpoint host is re-checked.
func NewHousekeeper(s store.Store, retention, staleAfter time.Duration, logger *slog.Logger) *Housekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Housekeeper{
		store:      s,
		retention:  retention,
		staleAfter: staleAfter,
		logger:     logger.With("component", "push.housekeeper"),
	}
}

// Start schedules the housekeeping job on schedule (standard 5-field cron
// expression) and runs it asynchronously via robfig/cron/v3.
func (h *Housekeeper) Start(schedule string) error {
	h.cron = cron.New()
	if _, err := h.cron.AddFunc(schedule, h.runOnce); err != nil {
		return err
	}
	h.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight run to finish.
func (h *Housekeeper) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

// RunOnce executes one housekeeping pass immediately; exported so tests and
// an admin endpoint can trigger it outside the cron schedule.
func (h *Housekeeper) RunOnce() {
	h.runOnce()
}

func (h *Housekeeper) runOnce() {
	ctx := context.Background()

	purged, err := h.store.PurgeNotificationHistory(ctx, time.Now().Add(-h.retention))
	if err != nil {
		h.logger.Error("failed purging notification history", "error", err)
	} else if purged > 0 {
		h.logger.Info("purged expired notification history", "count", purged)
	}

	stale, err := h.store.ListStalePushSubscriptions(ctx, time.Now().Add(-h.staleAfter))
	if err != nil {
		h.logger.Error("failed listing stale push subscriptions", "error", err)
		return
	}
	for _, sub := range stale {
		if endpointHostResolves(sub.Endpoint) {
			continue
		}
		h.logger.Info("evicting push subscription with unresolvable endpoint", "subscription_id", sub.ID)
		if err := h.store.DeletePushSubscription(ctx, sub.ID); err != nil {
			h.logger.Error("failed evicting stale subscription", "error", err, "subscription_id", sub.ID)
		}
	}
}

// endpointHostResolves reports whether the push service host behind
// endpoint still resolves in DNS. An unparsable or unresolvable endpoint is
// treated as dead.
func endpointHostResolves(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return false
	}
	_, err = net.LookupHost(u.Hostname())
	return err == nil
}
