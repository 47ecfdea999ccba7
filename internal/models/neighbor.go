package models

import (
	"time"

	"github.com/google/uuid"
)

// Neighbor is an account on the platform. The same neighbor can act as
// requester on one task and helper on another; the coordinator only forbids
// both roles on the same task.
type Neighbor struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	// PayerRef is the external payment processor's customer reference.
	PayerRef  string    `json:"payer_ref,omitempty"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}
