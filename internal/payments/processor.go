// Package payments defines the settlement contract the coordinator drives.
// The processor itself (Stripe or equivalent) runs outside this system; the
// coordinator calls authorize on accept, capture on confirm, release on
// cancel/expire, and refund on dispute resolution.
package payments

import (
	"context"
	"errors"
)

// ErrDeclinedPayment is returned when the processor refuses to place a hold.
var ErrDeclinedPayment = errors.New("payment declined")

// ErrCaptureFailed is returned when capturing a hold fails. The task stays
// CONFIRMED and the capture job retries with backoff.
var ErrCaptureFailed = errors.New("capture failed")

// Processor is the external payment processor contract.
type Processor interface {
	// Authorize places a hold for amountCents against the payer and
	// returns the hold id.
	Authorize(ctx context.Context, amountCents int64, payerRef string) (holdID string, err error)
	// Capture settles a hold and returns the settlement reference.
	Capture(ctx context.Context, holdID string) (settlementRef string, err error)
	// Release frees an uncaptured hold. Idempotent on the processor side.
	Release(ctx context.Context, holdID string) error
	// Refund returns amountCents of a settled capture to the payer.
	Refund(ctx context.Context, settlementRef string, amountCents int64) error
}
