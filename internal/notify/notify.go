// Package notify is the real-time event contract: every task state change
// and request attachment is published to interested parties. Delivery is
// at-least-once; consumers de-duplicate on Event.ID.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	EventTaskStateChanged = "task_state_changed"
	EventRequestAttached  = "request_attached"
	EventBroadcastClosed  = "broadcast_closed"
)

// Event is a single notification. ID is the dedup key.
type Event struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	TaskID      uuid.UUID  `json:"task_id,omitempty"`
	BroadcastID *uuid.UUID `json:"broadcast_id,omitempty"`
	FromState   string     `json:"from_state,omitempty"`
	ToState     string     `json:"to_state,omitempty"`
	At          time.Time  `json:"at"`
}

// Publisher emits events after a state change commits.
type Publisher interface {
	Publish(e Event)
}

// Filter selects events by task or broadcast id; zero values match all.
type Filter struct {
	TaskID      uuid.UUID
	BroadcastID uuid.UUID
}

func (f Filter) matches(e Event) bool {
	if f.TaskID != uuid.Nil && e.TaskID != f.TaskID {
		return false
	}
	if f.BroadcastID != uuid.Nil && (e.BroadcastID == nil || *e.BroadcastID != f.BroadcastID) {
		return false
	}
	return true
}

// Hub is the in-process Publisher plus subscription fan-out used by the API
// server and tests. A hosted change feed can replace it behind the same
// interfaces without touching the coordinator.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscription
}

type subscription struct {
	filter Filter
	ch     chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscription)}
}

// Publish fans the event out to every matching subscriber. Slow subscribers
// drop events rather than block the write path; the feed is a UI refresh
// signal, not a correctness dependency.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if !s.filter.matches(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe registers a filtered subscriber. Cancel removes it and closes
// the channel.
func (h *Hub) Subscribe(f Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	s := &subscription{filter: f, ch: make(chan Event, 16)}
	h.subs[id] = s
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(cur.ch)
		}
	}
	return s.ch, cancel
}
