// Package lifecycle owns the task state machine: the set of legal edges and
// the conflict error reported when a caller asks for anything else. It is
// pure; guards that need entity fields (actor identity, proof presence,
// price bounds) live with the coordinator; this package answers only whether
// an edge exists.
package lifecycle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/models"
)

// transitions is the full edge set. A state absent from the map (or an empty
// slice) is terminal.
var transitions = map[string][]string{
	models.TaskStateDraft: {
		models.TaskStatePendingMatch,
		models.TaskStateCancelled,
	},
	models.TaskStatePendingMatch: {
		models.TaskStateOffered,
		models.TaskStateExpired,
		models.TaskStateCancelled,
	},
	models.TaskStateOffered: {
		models.TaskStateAccepted,
		models.TaskStatePendingMatch, // decline or offer timeout
		models.TaskStateExpired,
		models.TaskStateCancelled,
	},
	models.TaskStateAccepted: {
		models.TaskStateInProgress,
		models.TaskStateExpired,
		models.TaskStateCancelled, // hold released per refund policy
	},
	models.TaskStateInProgress: {
		models.TaskStateCompleted,
		models.TaskStateCancelled,
	},
	models.TaskStateCompleted: {
		models.TaskStateConfirmed,
		models.TaskStateDisputed,
	},
	models.TaskStateConfirmed: {
		models.TaskStatePaid,
		models.TaskStateDisputed,
	},
	models.TaskStateDisputed: {
		models.TaskStateRefunded,
		models.TaskStateConfirmed,
	},
	models.TaskStatePaid:      {},
	models.TaskStateCancelled: {},
	models.TaskStateExpired:   {},
	models.TaskStateRefunded:  {},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state has no outgoing edges. Terminal tasks
// are retained for audit, never deleted.
func IsTerminal(state string) bool {
	return len(transitions[state]) == 0
}

// IsValidState reports whether s is a known lifecycle state.
func IsValidState(s string) bool {
	_, ok := transitions[s]
	return ok
}

// HoldOutstanding reports whether a task in this state may still be carrying
// a payment hold that needs resolution. The reconciliation sweep scans these.
func HoldOutstanding(state string) bool {
	switch state {
	case models.TaskStateAccepted, models.TaskStateInProgress,
		models.TaskStateCompleted, models.TaskStateConfirmed,
		models.TaskStateDisputed:
		return true
	}
	return false
}

// StateConflictError reports a transition whose guard failed, naming the
// current and requested states so clients can refresh and retry.
type StateConflictError struct {
	TaskID    uuid.UUID
	Current   string
	Requested string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("task %s: cannot move %s -> %s", e.TaskID, e.Current, e.Requested)
}

// Conflict builds a StateConflictError for the given task.
func Conflict(taskID uuid.UUID, current, requested string) error {
	return &StateConflictError{TaskID: taskID, Current: current, Requested: requested}
}
