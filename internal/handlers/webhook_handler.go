package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// CaptureOutcomes accepts the processor's asynchronous capture result.
type CaptureOutcomes interface {
	HandleCaptureOutcome(ctx context.Context, holdID, settlementRef string, success bool) error
}

// WebhookHandler serves POST /v1/webhooks/payments. Delivery is at least
// once; the coordinator dedups on the hold's ledger entries, so replays and
// out-of-order retries are safe.
type WebhookHandler struct {
	Coord  CaptureOutcomes
	Secret string
	Logger *slog.Logger
}

type captureOutcomeRequest struct {
	HoldID        string `json:"hold_id"`
	SettlementRef string `json:"settlement_ref"`
	Status        string `json:"status"` // "succeeded" or "failed"
}

func (h *WebhookHandler) CaptureOutcome(w http.ResponseWriter, r *http.Request) {
	sig := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(sig), []byte(h.Secret)) != 1 {
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var req captureOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.HoldID == "" {
		http.Error(w, `{"error":"hold_id is required"}`, http.StatusBadRequest)
		return
	}

	success := req.Status == "succeeded"
	if err := h.Coord.HandleCaptureOutcome(r.Context(), req.HoldID, req.SettlementRef, success); err != nil {
		h.Logger.Error("capture outcome", "hold_id", req.HoldID, "error", err)
		// Non-2xx makes the processor retry; the ledger dedup absorbs it.
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
