package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task lifecycle states. Transitions between them are owned by the
// lifecycle package's table; nothing else writes Task.State.
const (
	TaskStateDraft        = "DRAFT"
	TaskStatePendingMatch = "PENDING_MATCH"
	TaskStateOffered      = "OFFERED"
	TaskStateAccepted     = "ACCEPTED"
	TaskStateInProgress   = "IN_PROGRESS"
	TaskStateCompleted    = "COMPLETED"
	TaskStateConfirmed    = "CONFIRMED"
	TaskStatePaid         = "PAID"
	TaskStateCancelled    = "CANCELLED"
	TaskStateExpired      = "EXPIRED"
	TaskStateDisputed     = "DISPUTED"
	TaskStateRefunded     = "REFUNDED"
)

// Errand types recognized by the payload validator.
const (
	ErrandPharmacy = "pharmacy"
	ErrandGrocery  = "grocery"
	ErrandCoffee   = "coffee"
	ErrandPackage  = "package"
	ErrandOther    = "other"
)

type Task struct {
	ID          uuid.UUID  `json:"id"`
	RequesterID uuid.UUID  `json:"requester_id"`
	HelperID    *uuid.UUID `json:"helper_id,omitempty"`
	// PendingHelperID is set while an offer is in flight (OFFERED) and
	// cleared on accept/decline.
	PendingHelperID *uuid.UUID `json:"pending_helper_id,omitempty"`
	BroadcastID     *uuid.UUID `json:"broadcast_id,omitempty"`

	ErrandType   string          `json:"errand_type"`
	Title        string          `json:"title"`
	ItemsPayload json.RawMessage `json:"items_payload,omitempty"`

	// Minor currency units throughout. BasePriceCents is immutable once
	// the task leaves DRAFT; TipCents may be added up to capture.
	BasePriceCents int64 `json:"base_price_cents"`
	TipCents       int64 `json:"tip_cents"`

	State    string  `json:"state"`
	ProofRef *string `json:"proof_ref,omitempty"`

	DisputeReason *string    `json:"dispute_reason,omitempty"`
	DisputedAt    *time.Time `json:"disputed_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`

	// Payment processor references. HoldID is set on ACCEPTED,
	// SettlementRef on PAID.
	HoldID        *string `json:"hold_id,omitempty"`
	SettlementRef *string `json:"settlement_ref,omitempty"`
	// CaptureExhausted marks a CONFIRMED task whose capture retries ran
	// out; it stays CONFIRMED for manual review instead of advancing.
	CaptureExhausted bool `json:"capture_exhausted,omitempty"`

	Deadline    time.Time  `json:"deadline"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TotalCents is the amount held and captured: base price plus tip.
func (t *Task) TotalCents() int64 {
	return t.BasePriceCents + t.TipCents
}
