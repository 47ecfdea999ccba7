package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/broadcast"
	"github.com/neighborgigs/backend/internal/coordinator"
	"github.com/neighborgigs/backend/internal/lifecycle"
	"github.com/neighborgigs/backend/internal/payments"
	"github.com/neighborgigs/backend/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pathID parses the {id} wildcard from a Go 1.22 mux pattern.
func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// writeCoordinatorError maps coordinator and lifecycle errors onto HTTP
// statuses. State conflicts carry the current state so clients can refresh.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	var vErr *coordinator.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": vErr.Error(), "field": vErr.Field})
		return
	}
	var cErr *lifecycle.StateConflictError
	if errors.As(err, &cErr) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": cErr.Error(), "current_state": cErr.Current})
		return
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, coordinator.ErrAlreadyOffered):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, coordinator.ErrNotHelper),
		errors.Is(err, coordinator.ErrNotRequester),
		errors.Is(err, coordinator.ErrNotParty),
		errors.Is(err, broadcast.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, coordinator.ErrHelperIsRequester):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, broadcast.ErrWindowExpired):
		writeJSON(w, http.StatusGone, map[string]string{"error": err.Error()})
	case errors.Is(err, broadcast.ErrWindowClosed), errors.Is(err, broadcast.ErrInvalidWindow):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, payments.ErrDeclinedPayment):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "payment authorization declined"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
