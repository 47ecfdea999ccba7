package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment ledger entry types, one per processor call the coordinator makes.
const (
	PaymentEntryAuthorize = "authorize"
	PaymentEntryCapture   = "capture"
	PaymentEntryRelease   = "release"
	PaymentEntryRefund    = "refund"
)

// PaymentRecord is the append-only ledger of processor calls per task. The
// processor itself is external; these rows are what reconciliation sweeps
// and the webhook idempotency check read.
type PaymentRecord struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	EntryType   string    `json:"entry_type"`
	AmountCents int64     `json:"amount_cents"`
	// CommissionCents is the platform's cut of a capture (zero for other
	// entry types).
	CommissionCents int64   `json:"commission_cents,omitempty"`
	HoldID          string  `json:"hold_id"`
	SettlementRef   *string `json:"settlement_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
