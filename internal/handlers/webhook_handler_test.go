package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockCaptureOutcomes struct {
	err        error
	holdID     string
	settlement string
	success    bool
	calls      int
}

func (m *mockCaptureOutcomes) HandleCaptureOutcome(_ context.Context, holdID, settlementRef string, success bool) error {
	m.calls++
	m.holdID = holdID
	m.settlement = settlementRef
	m.success = success
	return m.err
}

func newWebhookHandler() (*WebhookHandler, *mockCaptureOutcomes) {
	coord := &mockCaptureOutcomes{}
	return &WebhookHandler{Coord: coord, Secret: "testsecret", Logger: slog.Default()}, coord
}

func webhookReq(secret, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	return req
}

func TestCaptureOutcome_Succeeded(t *testing.T) {
	h, coord := newWebhookHandler()

	body := `{"hold_id":"hold_1","settlement_ref":"settle_1","status":"succeeded"}`
	rec := httptest.NewRecorder()
	h.CaptureOutcome(rec, webhookReq("testsecret", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.holdID != "hold_1" || coord.settlement != "settle_1" || !coord.success {
		t.Errorf("outcome not passed through: %+v", coord)
	}
}

func TestCaptureOutcome_FailedStatus(t *testing.T) {
	h, coord := newWebhookHandler()

	body := `{"hold_id":"hold_1","status":"failed"}`
	rec := httptest.NewRecorder()
	h.CaptureOutcome(rec, webhookReq("testsecret", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.success {
		t.Error("failed status should map to success=false")
	}
}

func TestCaptureOutcome_BadSecret(t *testing.T) {
	h, coord := newWebhookHandler()

	rec := httptest.NewRecorder()
	h.CaptureOutcome(rec, webhookReq("wrong", `{"hold_id":"hold_1","status":"succeeded"}`))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if coord.calls != 0 {
		t.Error("coordinator should not be reached without a valid secret")
	}
}

func TestCaptureOutcome_MissingHoldID(t *testing.T) {
	h, coord := newWebhookHandler()

	rec := httptest.NewRecorder()
	h.CaptureOutcome(rec, webhookReq("testsecret", `{"status":"succeeded"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if coord.calls != 0 {
		t.Error("coordinator should not be reached without a hold_id")
	}
}

func TestCaptureOutcome_InternalErrorTriggersRetry(t *testing.T) {
	h, coord := newWebhookHandler()
	coord.err = errors.New("ledger unavailable")

	rec := httptest.NewRecorder()
	h.CaptureOutcome(rec, webhookReq("testsecret", `{"hold_id":"hold_1","status":"succeeded"}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the processor retries, got %d", rec.Code)
	}
}
