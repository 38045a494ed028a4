package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/chat-core/internal/apperr"
	"github.com/2389/chat-core/internal/auth"
)

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an apperr.Code to its HTTP status and writes the §7 error
// taxonomy shape, mirroring the wire frame's {code, message} body.
func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := httpStatusFor(code)
	writeJSON(w, status, errorBody{Code: string(code), Message: err.Error()})
}

func httpStatusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeBadRequest:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any, validate func(any) error) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "invalid request body", err)
	}
	if err := validate(v); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "validation failed", err)
	}
	return nil
}

var errNoPrincipal = errors.New("restapi: no authenticated principal in context")

// principalID reads the authenticated user id attached by
// auth.HTTPAuthMiddleware. Every route that calls this is mounted behind
// that middleware, so a miss means a wiring bug, not a client error; it is
// still reported as Unauthorized rather than panicking in a request path.
func principalID(r *http.Request) (string, error) {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		return "", errNoPrincipal
	}
	return ac.UserID, nil
}
