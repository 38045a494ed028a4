// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds principal to context

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/chat-core/internal/store"
)

// logHTTPAuthFailure logs an HTTP authentication failure with structured context.
func logHTTPAuthFailure(logger *slog.Logger, r *http.Request, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := make([]any, 0, 8+len(attrs))
	baseAttrs = append(baseAttrs,
		"reason", reason,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("http auth failure", baseAttrs...)
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error string `json:"error"`
}

// jsonError writes a JSON error response with the given status code.
func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		// If JSON encoding fails, the response is already partially written.
		_ = err
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// authenticate resolves a bearer token down to a live User, or an HTTP
// status and message to report on failure.
func authenticate(r *http.Request, users store.Store, verifier TokenVerifier) (*AuthContext, int, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, http.StatusUnauthorized, errMsg
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid token"
	}

	if _, err := users.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, http.StatusUnauthorized, "principal not found"
		}
		return nil, http.StatusInternalServerError, "user lookup failed"
	}

	return &AuthContext{UserID: userID}, 0, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT
// tokens, looks up the resulting user, and adds AuthContext to the request
// context via the same WithAuth/FromContext pattern used everywhere else in
// the core. The optional logger enables auth failure logging for security
// monitoring.
func HTTPAuthMiddleware(users store.Store, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, status, errMsg := authenticate(r, users, verifier)
			if errMsg != "" {
				logHTTPAuthFailure(logger, r, "authentication_failed", "error", errMsg)
				jsonError(w, errMsg, status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware creates an HTTP middleware that attempts JWT auth but
// allows unauthenticated requests through as anonymous. Useful for endpoints
// that behave differently for authenticated vs anonymous callers.
func OptionalAuthMiddleware(users store.Store, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, status, errMsg := authenticate(r, users, verifier)
			if errMsg != "" {
				_ = status
				next.ServeHTTP(w, r) // continue as anonymous
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
