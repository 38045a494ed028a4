// ABOUTME: Handshake authentication — the duplex transport's bearer credential check (§4.1).
// ABOUTME: Accepts the token from the Authorization header or a ?token= query fallback for browser WebSocket clients.

package gateway

import (
	"errors"
	"net/http"
	"strings"
)

var errMissingCredential = errors.New("gateway: missing bearer credential")

// authenticateHandshake resolves the bearer credential carried by the
// upgrade request to a principal id, the way auth.HTTPAuthMiddleware does
// for the REST surface, minus the store round trip (the Gateway checks user
// existence itself right after, as part of session setup).
func (g *Gateway) authenticateHandshake(r *http.Request) (string, error) {
	token := bearerFromHeader(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", errMissingCredential
	}
	userID, err := g.authVerifier.Verify(token)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func bearerFromHeader(header string) string {
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
