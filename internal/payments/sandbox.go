package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-memory Processor for development and tests. It approves
// every authorization and tracks hold state so double captures and releases
// of unknown holds surface as errors.
type Sandbox struct {
	mu    sync.Mutex
	holds map[string]holdState
}

type holdState struct {
	amountCents int64
	captured    bool
	released    bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{holds: make(map[string]holdState)}
}

func (s *Sandbox) Authorize(_ context.Context, amountCents int64, payerRef string) (string, error) {
	if payerRef == "" {
		return "", ErrDeclinedPayment
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	holdID := "hold_" + uuid.NewString()
	s.holds[holdID] = holdState{amountCents: amountCents}
	return holdID, nil
}

func (s *Sandbox) Capture(_ context.Context, holdID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok || h.released {
		return "", fmt.Errorf("%w: unknown or released hold %s", ErrCaptureFailed, holdID)
	}
	if h.captured {
		return "", fmt.Errorf("%w: hold %s already captured", ErrCaptureFailed, holdID)
	}
	h.captured = true
	s.holds[holdID] = h
	return "settle_" + uuid.NewString(), nil
}

func (s *Sandbox) Release(_ context.Context, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		// Already forgotten. Release is idempotent.
		return nil
	}
	if h.captured {
		return fmt.Errorf("cannot release captured hold %s", holdID)
	}
	h.released = true
	s.holds[holdID] = h
	return nil
}

func (s *Sandbox) Refund(_ context.Context, settlementRef string, amountCents int64) error {
	if settlementRef == "" {
		return fmt.Errorf("refund requires a settlement reference")
	}
	return nil
}
