package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleGetNotificationSettings_DefaultsWhenUnset(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/notifications/settings", nil)
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handleGetNotificationSettings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out notificationSettingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !out.Enabled {
		t.Fatalf("expected default Enabled=true, got %+v", out)
	}
}

func TestHandlePutThenGetNotificationSettings_RoundTrips(t *testing.T) {
	api, _ := newTestAPI(t)

	putBody, _ := json.Marshal(putNotificationSettingsRequest{
		Enabled:         false,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "07:00",
		MutedConvos:     map[string]bool{"conv-1": true},
	})
	putReq := httptest.NewRequest(http.MethodPut, "/notifications/settings", bytes.NewReader(putBody))
	putReq = withUser(putReq, "alice")
	putRec := httptest.NewRecorder()
	api.handlePutNotificationSettings(putRec, putReq)

	if putRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", putRec.Code, putRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/notifications/settings", nil)
	getReq = withUser(getReq, "alice")
	getRec := httptest.NewRecorder()
	api.handleGetNotificationSettings(getRec, getReq)

	var out notificationSettingsResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Enabled || out.QuietHoursStart != "22:00" || !out.MutedConvos["conv-1"] {
		t.Fatalf("unexpected persisted settings: %+v", out)
	}
}

func TestHandleNotificationSubscribeAndUnsubscribe(t *testing.T) {
	api, st := newTestAPI(t)

	subBody, _ := json.Marshal(subscribeRequest{
		Endpoint:  "https://push.example/ep1",
		P256dhKey: "p256dh",
		AuthKey:   "authkey",
	})
	subReq := httptest.NewRequest(http.MethodPost, "/notifications/subscribe", bytes.NewReader(subBody))
	subReq = withUser(subReq, "alice")
	subRec := httptest.NewRecorder()
	api.handleNotificationSubscribe(subRec, subReq)

	if subRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", subRec.Code, subRec.Body.String())
	}

	subs, err := st.ListPushSubscriptions(context.Background(), "alice")
	if err != nil || len(subs) != 1 {
		t.Fatalf("expected one stored subscription, got %v, err %v", subs, err)
	}

	unsubBody, _ := json.Marshal(unsubscribeRequest{Endpoint: "https://push.example/ep1"})
	unsubReq := httptest.NewRequest(http.MethodPost, "/notifications/unsubscribe", bytes.NewReader(unsubBody))
	unsubReq = withUser(unsubReq, "alice")
	unsubRec := httptest.NewRecorder()
	api.handleNotificationUnsubscribe(unsubRec, unsubReq)

	if unsubRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", unsubRec.Code, unsubRec.Body.String())
	}

	subs, err = st.ListPushSubscriptions(context.Background(), "alice")
	if err != nil || len(subs) != 0 {
		t.Fatalf("expected subscription removed, got %v, err %v", subs, err)
	}
}

func TestHandleNotificationUnsubscribe_UnknownEndpointIsNoContent(t *testing.T) {
	api, _ := newTestAPI(t)

	body, _ := json.Marshal(unsubscribeRequest{Endpoint: "https://push.example/never-subscribed"})
	req := httptest.NewRequest(http.MethodPost, "/notifications/unsubscribe", bytes.NewReader(body))
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handleNotificationUnsubscribe(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleVAPIDPublicKey_Unauthenticated(t *testing.T) {
	api := New(Config{VAPIDPublicKey: "test-public-key"})

	req := httptest.NewRequest(http.MethodGet, "/notifications/vapid-public-key", nil)
	rec := httptest.NewRecorder()

	api.handleVAPIDPublicKey(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out["publicKey"] != "test-public-key" {
		t.Fatalf("expected test-public-key, got %q", out["publicKey"])
	}
}
