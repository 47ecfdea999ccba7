package models

import (
	"time"

	"github.com/google/uuid"
)

// Broadcast window states. Transitions are one-way: active windows become
// expired (timer) or completed (helper closed it) and never reopen.
const (
	BroadcastActive    = "active"
	BroadcastExpired   = "expired"
	BroadcastCompleted = "completed"
)

// BroadcastWindow is a helper's declared availability: "heading to the
// pharmacy, leaving at X, back by Y". Neighbors attach requests to it while
// it is active.
type BroadcastWindow struct {
	ID       uuid.UUID `json:"id"`
	HelperID uuid.UUID `json:"helper_id"`

	ErrandType  string  `json:"errand_type"`
	Note        string  `json:"note,omitempty"`
	RadiusMiles float64 `json:"radius_miles"`

	State     string     `json:"state"`
	LeavingAt time.Time  `json:"leaving_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
