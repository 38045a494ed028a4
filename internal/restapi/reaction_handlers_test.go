package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleAddReaction_PersistsAndIsIdempotent(t *testing.T) {
	api, _ := newTestAPI(t)

	body, _ := json.Marshal(addReactionRequest{Emoji: "👍"})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/reactions/message/m1", bytes.NewReader(body))
		req.SetPathValue("messageId", "m1")
		req = withUser(req, "alice")
		rec := httptest.NewRecorder()

		api.handleAddReaction(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("iteration %d: expected 201, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	listReq := httptest.NewRequest(http.MethodGet, "/reactions/message/m1", nil)
	listReq.SetPathValue("messageId", "m1")
	listReq = withUser(listReq, "alice")
	listRec := httptest.NewRecorder()
	api.handleListReactions(listRec, listReq)

	var out []reactionResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding reactions: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one reaction after duplicate add, got %d: %+v", len(out), out)
	}
}

func TestHandleRemoveReaction_MissingIsNoContent(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodDelete, "/reactions/message/m1/👍", nil)
	req.SetPathValue("messageId", "m1")
	req.SetPathValue("emoji", "👍")
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handleRemoveReaction(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for removing an absent reaction, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRemoveReaction_RemovesExisting(t *testing.T) {
	api, _ := newTestAPI(t)

	addBody, _ := json.Marshal(addReactionRequest{Emoji: "🔥"})
	addReq := httptest.NewRequest(http.MethodPost, "/reactions/message/m1", bytes.NewReader(addBody))
	addReq.SetPathValue("messageId", "m1")
	addReq = withUser(addReq, "alice")
	api.handleAddReaction(httptest.NewRecorder(), addReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/reactions/message/m1/🔥", nil)
	delReq.SetPathValue("messageId", "m1")
	delReq.SetPathValue("emoji", "🔥")
	delReq = withUser(delReq, "alice")
	delRec := httptest.NewRecorder()
	api.handleRemoveReaction(delRec, delReq)

	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delRec.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/reactions/message/m1", nil)
	listReq.SetPathValue("messageId", "m1")
	listReq = withUser(listReq, "alice")
	listRec := httptest.NewRecorder()
	api.handleListReactions(listRec, listReq)

	var out []reactionResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding reactions: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no reactions after removal, got %+v", out)
	}
}

func TestHandleAddReaction_RequiresEmoji(t *testing.T) {
	api, _ := newTestAPI(t)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/reactions/message/m1", bytes.NewReader(body))
	req.SetPathValue("messageId", "m1")
	req = withUser(req, "alice")
	rec := httptest.NewRecorder()

	api.handleAddReaction(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueueReactionUpdate_NilPipelineIsNoop(t *testing.T) {
	api, _ := newTestAPI(t)
	// api.pipeline is nil in newTestAPI; this must not panic.
	api.queueReactionUpdate(context.Background(), "m1", "alice", "👍", true)
}
