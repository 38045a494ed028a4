// Package config handles configuration loading for chat-core.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion and sensible defaults for everything except the JWT secret
// and storage paths.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	presence:
//	  grace_period: "10s"
//	  away_threshold: "10m"
//
// # Configuration Sections
//
// Server:
//
//	server:
//	  ws_addr: "0.0.0.0:8081"     # parsed but not used; /ws is served on http_addr
//	  http_addr: "0.0.0.0:8080"   # REST companion surface, health checks and /ws
//
// Database and shared cache:
//
//	database:
//	  path: "/var/lib/chat-core/core.db"
//	redis:
//	  addr: "localhost:6379"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//	  access_token_ttl: "15m"
//	  refresh_token_ttl: "168h"
//
// Ephemeral signal pipeline tuning:
//
//	ephemeral:
//	  typing_debounce: "300ms"
//	  read_receipt_throttle: "200ms"
//	  presence_batch: "100ms"
//	  reaction_batch: "50ms"
//
// Push:
//
//	push:
//	  vapid_public_key: "${VAPID_PUBLIC_KEY}"
//	  vapid_private_key: "${VAPID_PRIVATE_KEY}"
//	  vapid_subject: "mailto:ops@example.com"
//
// Tailscale (optional):
//
//	tailscale:
//	  enabled: false
//	  hostname: "chat-core"
//	  auth_key: "${TS_AUTHKEY}"
package config
