package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskTransition is the append-only audit row written for every state change:
// who moved the task, from where, to where, when. Never updated or deleted.
type TaskTransition struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	// ActorID is the neighbor who triggered the transition, or uuid.Nil
	// for system-driven moves (expiry sweep, auto-confirm timer).
	ActorID   uuid.UUID `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}
