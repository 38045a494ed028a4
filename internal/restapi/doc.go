// ABOUTME: REST companion surface named in §6 — registration, login, conversations, messages,
// ABOUTME: reactions, notification settings/subscriptions, user/status lookups; health checks are served by internal/gateway.

package restapi
