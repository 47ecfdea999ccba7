package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/notify"
)

// Subscriber is the live event feed. The returned cancel must be called when
// the subscriber goes away.
type Subscriber interface {
	Subscribe(f notify.Filter) (<-chan notify.Event, func())
}

// FeedHandler streams state-change events over server-sent events.
type FeedHandler struct {
	Hub    Subscriber
	Logger *slog.Logger
}

// Stream handles GET /v1/feed. Optional ?task_id= and ?broadcast_id= narrow
// the stream; without them the client sees every event.
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	var filter notify.Filter
	if v := r.URL.Query().Get("task_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, `{"error":"invalid task_id"}`, http.StatusBadRequest)
			return
		}
		filter.TaskID = id
	}
	if v := r.URL.Query().Get("broadcast_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, `{"error":"invalid broadcast_id"}`, http.StatusBadRequest)
			return
		}
		filter.BroadcastID = id
	}

	events, cancel := h.Hub.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				h.Logger.Error("marshal feed event", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Kind, payload)
			flusher.Flush()
		}
	}
}
