package push

import (
	"context"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/2389/chat-core/internal/model"
)

// WebPushTransport sends notifications via the W3C Web Push protocol using
// VAPID application-server identity. It is the production Transport,
// grounded on the WAN-Ninjas-AmityVox manifest from the retrieval pack.
type WebPushTransport struct {
	publicKey  string
	privateKey string
	subject    string
	ttlSeconds int
}

// NewWebPushTransport builds a transport signing requests with the given
// VAPID keypair. subject is typically a "mailto:" contact address, as
// required by the push services VAPID authenticates against.
func NewWebPushTransport(publicKey, privateKey, subject string) *WebPushTransport {
	return &WebPushTransport{
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		ttlSeconds: 4 * 60 * 60,
	}
}

// Send implements Transport.
func (t *WebPushTransport) Send(ctx context.Context, sub *model.PushSubscription, payload []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.AuthKey,
			P256dh: sub.P256dhKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, &webpush.Options{
		Subscriber:      t.subject,
		VAPIDPublicKey:  t.publicKey,
		VAPIDPrivateKey: t.privateKey,
		TTL:             t.ttlSeconds,
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("webpush transport returned status %d", resp.StatusCode)
	default:
		return nil
	}
}
