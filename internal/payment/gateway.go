// Package payment is the engine's client side of the payment provider. The
// engine asks for charges and voids them; capture happens at the provider,
// which reports results back through the payment callback.
package payment

import (
	"context"
	"errors"
)

var (
	ErrInvalidAmount  = errors.New("amount must be greater than 0")
	ErrHandleRequired = errors.New("payment handle required")
)

type ChargeRequest struct {
	ReservationID string
	AmountCents   int64
	// IdempotencyKey lets the provider deduplicate retried requests.
	IdempotencyKey string
}

// Gateway is the provider-agnostic interface every payment adapter implements.
type Gateway interface {
	// RequestCharge asks the provider to charge the customer and returns the
	// provider's handle for the charge.
	RequestCharge(ctx context.Context, req ChargeRequest) (string, error)
	// Void cancels an outstanding charge.
	Void(ctx context.Context, handle string) error
}
