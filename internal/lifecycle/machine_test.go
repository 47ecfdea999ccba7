package lifecycle

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/models"
)

func TestCanTransition_HappyPath(t *testing.T) {
	path := []string{
		models.TaskStateDraft,
		models.TaskStatePendingMatch,
		models.TaskStateOffered,
		models.TaskStateAccepted,
		models.TaskStateInProgress,
		models.TaskStateCompleted,
		models.TaskStateConfirmed,
		models.TaskStatePaid,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransition_Edges(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		// decline and offer timeout go back to the pool
		{models.TaskStateOffered, models.TaskStatePendingMatch, true},
		// disputes from either post-completion state
		{models.TaskStateCompleted, models.TaskStateDisputed, true},
		{models.TaskStateConfirmed, models.TaskStateDisputed, true},
		{models.TaskStateDisputed, models.TaskStateRefunded, true},
		{models.TaskStateDisputed, models.TaskStateConfirmed, true},
		// expiry only before the work is done
		{models.TaskStatePendingMatch, models.TaskStateExpired, true},
		{models.TaskStateOffered, models.TaskStateExpired, true},
		{models.TaskStateAccepted, models.TaskStateExpired, true},
		{models.TaskStateInProgress, models.TaskStateExpired, false},
		{models.TaskStateCompleted, models.TaskStateExpired, false},
		// no shortcuts
		{models.TaskStateDraft, models.TaskStateOffered, false},
		{models.TaskStatePendingMatch, models.TaskStateAccepted, false},
		{models.TaskStateAccepted, models.TaskStateCompleted, false},
		{models.TaskStateCompleted, models.TaskStatePaid, false},
		// no going backwards
		{models.TaskStateAccepted, models.TaskStateOffered, false},
		{models.TaskStatePaid, models.TaskStateConfirmed, false},
		// terminal states are dead ends
		{models.TaskStatePaid, models.TaskStateDisputed, false},
		{models.TaskStateCancelled, models.TaskStatePendingMatch, false},
		{models.TaskStateExpired, models.TaskStatePendingMatch, false},
		{models.TaskStateRefunded, models.TaskStateConfirmed, false},
		// unknown states never transition
		{"BOGUS", models.TaskStatePendingMatch, false},
		{models.TaskStateDraft, "BOGUS", false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{
		models.TaskStatePaid,
		models.TaskStateCancelled,
		models.TaskStateExpired,
		models.TaskStateRefunded,
	}
	for _, st := range terminal {
		if !IsTerminal(st) {
			t.Errorf("expected %s to be terminal", st)
		}
	}
	live := []string{
		models.TaskStateDraft,
		models.TaskStatePendingMatch,
		models.TaskStateOffered,
		models.TaskStateAccepted,
		models.TaskStateInProgress,
		models.TaskStateCompleted,
		models.TaskStateConfirmed,
		models.TaskStateDisputed,
	}
	for _, st := range live {
		if IsTerminal(st) {
			t.Errorf("did not expect %s to be terminal", st)
		}
	}
}

func TestIsValidState(t *testing.T) {
	if !IsValidState(models.TaskStateDraft) {
		t.Error("DRAFT should be a known state")
	}
	if IsValidState("NOT_A_STATE") {
		t.Error("unknown state reported as valid")
	}
	if IsValidState("") {
		t.Error("empty state reported as valid")
	}
}

func TestHoldOutstanding(t *testing.T) {
	holding := []string{
		models.TaskStateAccepted,
		models.TaskStateInProgress,
		models.TaskStateCompleted,
		models.TaskStateConfirmed,
		models.TaskStateDisputed,
	}
	for _, st := range holding {
		if !HoldOutstanding(st) {
			t.Errorf("expected %s to carry an outstanding hold", st)
		}
	}
	for _, st := range []string{models.TaskStateDraft, models.TaskStatePendingMatch, models.TaskStateOffered, models.TaskStatePaid, models.TaskStateCancelled} {
		if HoldOutstanding(st) {
			t.Errorf("did not expect %s to carry a hold", st)
		}
	}
}

func TestStateConflictError(t *testing.T) {
	id := uuid.New()
	err := Conflict(id, models.TaskStatePaid, models.TaskStateDisputed)

	var conflict *StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError, got %T", err)
	}
	if conflict.TaskID != id {
		t.Errorf("TaskID = %s, want %s", conflict.TaskID, id)
	}
	if conflict.Current != models.TaskStatePaid || conflict.Requested != models.TaskStateDisputed {
		t.Errorf("unexpected states in conflict: %+v", conflict)
	}
}

// Every state reachable from DRAFT must eventually reach a terminal state;
// an absorbing loop would strand tasks.
func TestNoStrandedStates(t *testing.T) {
	reachesTerminal := func(start string) bool {
		seen := map[string]bool{}
		stack := []string{start}
		for len(stack) > 0 {
			st := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[st] {
				continue
			}
			seen[st] = true
			if IsTerminal(st) {
				return true
			}
			stack = append(stack, transitions[st]...)
		}
		return false
	}
	for st := range transitions {
		if !reachesTerminal(st) {
			t.Errorf("state %s cannot reach any terminal state", st)
		}
	}
}
