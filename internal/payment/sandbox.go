package payment

import (
	"context"
	"fmt"
	"sync"
)

// Sandbox is an in-memory gateway for development and tests. Requests with an
// idempotency key seen before return the earlier handle.
type Sandbox struct {
	mu      sync.Mutex
	seq     int
	charges map[string]Charge
	byKey   map[string]string
	failErr error
}

type Charge struct {
	Handle        string
	ReservationID string
	AmountCents   int64
	Voided        bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		charges: make(map[string]Charge),
		byKey:   make(map[string]string),
	}
}

// FailWith makes every following RequestCharge fail with err. Nil restores
// normal behaviour.
func (s *Sandbox) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *Sandbox) RequestCharge(ctx context.Context, req ChargeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.AmountCents <= 0 {
		return "", ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	if req.IdempotencyKey != "" {
		if h, ok := s.byKey[req.IdempotencyKey]; ok {
			return h, nil
		}
	}

	s.seq++
	h := fmt.Sprintf("sbx_%06d", s.seq)
	s.charges[h] = Charge{Handle: h, ReservationID: req.ReservationID, AmountCents: req.AmountCents}
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = h
	}
	return h, nil
}

func (s *Sandbox) Void(ctx context.Context, handle string) error {
	if handle == "" {
		return ErrHandleRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[handle]
	if !ok {
		return fmt.Errorf("void charge %s: unknown handle", handle)
	}
	c.Voided = true
	s.charges[handle] = c
	return nil
}

// Charges returns every charge made so far, voided ones included.
func (s *Sandbox) Charges() []Charge {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Charge, 0, len(s.charges))
	for i := 1; i <= s.seq; i++ {
		if c, ok := s.charges[fmt.Sprintf("sbx_%06d", i)]; ok {
			out = append(out, c)
		}
	}
	return out
}
