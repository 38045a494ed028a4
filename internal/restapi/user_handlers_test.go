package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389/chat-core/internal/model"
)

func seedUser(t *testing.T, api *API, id, handle string) {
	t.Helper()
	user := &model.User{
		ID:          id,
		Handle:      handle,
		DisplayName: handle,
		Status:      model.PresenceOffline,
		CreatedAt:   time.Now(),
	}
	if err := api.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
}

func TestHandleGetMe_ReturnsAuthenticatedUser(t *testing.T) {
	api, _ := newTestAPI(t)
	seedUser(t, api, "alice", "alice")

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handleGetMe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.ID != "alice" {
		t.Fatalf("expected alice, got %+v", out)
	}
}

func TestHandleGetUser_NotFound(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/users/ghost", nil)
	req.SetPathValue("id", "ghost")
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handleGetUser(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePutStatusThenGetStatus_RoundTrips(t *testing.T) {
	api, _ := newTestAPI(t)
	seedUser(t, api, "alice", "alice")

	putBody, _ := json.Marshal(putStatusRequest{Status: "busy", CustomMessage: "in a meeting"})
	putReq := httptest.NewRequest(http.MethodPut, "/status", bytes.NewReader(putBody))
	putReq = withUser(putReq, "alice")
	putRec := httptest.NewRecorder()
	api.handlePutStatus(putRec, putReq)

	if putRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", putRec.Code, putRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/status/alice", nil)
	getReq.SetPathValue("userId", "alice")
	getReq = withUser(getReq, "bob")
	getRec := httptest.NewRecorder()
	api.handleGetStatus(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	var out statusResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Status != "busy" || out.CustomMessage != "in a meeting" {
		t.Fatalf("unexpected status: %+v", out)
	}
}

func TestHandlePutStatus_RejectsInvalidStatus(t *testing.T) {
	api, _ := newTestAPI(t)
	seedUser(t, api, "alice", "alice")

	body, _ := json.Marshal(map[string]string{"status": "not-a-real-status"})
	req := httptest.NewRequest(http.MethodPut, "/status", bytes.NewReader(body))
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handlePutStatus(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetStatus_UnknownUserNotFound(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/status/ghost", nil)
	req.SetPathValue("userId", "ghost")
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handleGetStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
