package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/payment"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

const defaultPaymentWindow = 72 * time.Hour

// Lifecycle drives a pallet through OPEN, COMPLETING, PAYMENT_PENDING and
// CONFIRMED, and back to OPEN when an operator reverses a completion.
type Lifecycle struct {
	repo          Repository
	ser           serializer
	fill          *FillCalculator
	payments      payment.Gateway
	clock         clock.Clock
	log           logrus.FieldLogger
	audit         logrus.FieldLogger
	paymentWindow time.Duration
}

type LifecycleOption func(*Lifecycle)

// WithPaymentWindow sets how long customers have to pay once a pallet
// completes.
func WithPaymentWindow(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.paymentWindow = d
		}
	}
}

// WithAuditLogger sends transition records to log in addition to the
// transitions table.
func WithAuditLogger(log logrus.FieldLogger) LifecycleOption {
	return func(l *Lifecycle) {
		if log != nil {
			l.audit = log
		}
	}
}

func NewLifecycle(repo Repository, locks *PairLocks, fill *FillCalculator, payments payment.Gateway, clk clock.Clock, log logrus.FieldLogger, opts ...LifecycleOption) *Lifecycle {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Lifecycle{
		repo:          repo,
		ser:           serializer{locks: locks, repo: repo},
		fill:          fill,
		payments:      payments,
		clock:         clk,
		log:           log,
		audit:         log,
		paymentWindow: defaultPaymentWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CompletionReport is the admin view of a pallet's completion state.
// WouldComplete is Indeterminate when the pallet has no rules.
type CompletionReport struct {
	PalletID      string              `json:"pallet_id"`
	Status        domain.PalletStatus `json:"status"`
	IsComplete    bool                `json:"is_complete"`
	Metrics       Metrics             `json:"metrics"`
	WouldComplete rules.Outcome       `json:"would_complete"`
	Explanation   rules.Explanation   `json:"explanation"`
	Inconsistent  bool                `json:"inconsistent"`
}

type AdvanceResult struct {
	Pallet       domain.Pallet `json:"pallet"`
	Metrics      Metrics       `json:"metrics"`
	Outcome      rules.Outcome `json:"outcome"`
	Transitioned bool          `json:"transitioned"`
}

// Advance evaluates an OPEN pallet and moves it to COMPLETING when its rules
// are satisfied. Payment requests for the pallet go out after the commit.
func (l *Lifecycle) Advance(ctx context.Context, palletID, actor string) (AdvanceResult, error) {
	var res AdvanceResult
	err := l.withPallet(ctx, palletID, func(txCtx context.Context, p domain.Pallet) error {
		var err error
		res, err = l.advanceLocked(txCtx, p, actor)
		return err
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	if res.Transitioned {
		l.requestPaymentsAfterCommit(ctx, palletID)
	}
	return res, nil
}

// advanceLocked runs with the pallet's pair lock held.
func (l *Lifecycle) advanceLocked(ctx context.Context, p domain.Pallet, actor string) (AdvanceResult, error) {
	m, err := l.fill.Compute(ctx, p)
	if err != nil {
		return AdvanceResult{}, err
	}
	outcome := rules.Evaluate(p.CompletionRules, m.Values())
	res := AdvanceResult{Pallet: p, Metrics: m, Outcome: outcome}
	if p.Status != domain.PalletStatusOpen || outcome != rules.True {
		return res, nil
	}

	counted, err := l.fill.counted(ctx, p)
	if err != nil {
		return AdvanceResult{}, err
	}
	before := snapshot(p, counted)

	now := l.clock.Now()
	deadline := now.Add(l.paymentWindow)
	from := p.Status
	p.Status = domain.PalletStatusCompleting
	p.IsComplete = true
	p.CompletedAt = &now
	p.PaymentDeadline = &deadline
	p.UpdatedAt = now
	if err := l.repo.UpdatePallet(ctx, p); err != nil {
		return AdvanceResult{}, err
	}

	for i, r := range counted {
		if !r.Status.Billable() {
			continue
		}
		if err := l.repo.UpdateReservationStatus(ctx, r.ID, domain.ReservationPendingPayment); err != nil {
			return AdvanceResult{}, err
		}
		counted[i].Status = domain.ReservationPendingPayment
	}

	if err := l.record(ctx, p, from, domain.ReasonRulesSatisfied, actor, before, snapshot(p, counted)); err != nil {
		return AdvanceResult{}, err
	}
	res.Pallet = p
	res.Transitioned = true
	return res, nil
}

type PaymentRound struct {
	PalletID  string              `json:"pallet_id"`
	Requested []string            `json:"requested"`
	Settled   []string            `json:"settled,omitempty"`
	Failed    []string            `json:"failed"`
	Status    domain.PalletStatus `json:"status"`
}

// RequestPayments asks the payment gateway to charge every pending_payment
// reservation of a completed pallet that has no outstanding charge. Once every
// such reservation has one, the pallet moves to PAYMENT_PENDING. Gateway calls
// happen outside the pair lock. Reservations with nothing to pay are settled
// without a charge.
func (l *Lifecycle) RequestPayments(ctx context.Context, palletID string) (PaymentRound, error) {
	round := PaymentRound{PalletID: palletID}

	var todo []domain.Reservation
	err := l.withPallet(ctx, palletID, func(txCtx context.Context, p domain.Pallet) error {
		round.Status = p.Status
		if p.Status != domain.PalletStatusCompleting && p.Status != domain.PalletStatusPaymentPending {
			return nil
		}
		counted, err := l.fill.counted(txCtx, p)
		if err != nil {
			return err
		}
		for _, r := range counted {
			if needsCharge(r) {
				todo = append(todo, r)
			}
		}
		return nil
	})
	if err != nil {
		return PaymentRound{}, err
	}

	handles := make(map[string]string, len(todo))
	for _, r := range todo {
		if r.TotalCostCents <= 0 {
			continue
		}
		key := r.ID
		if r.PaymentHandle != "" {
			key = r.ID + ":" + r.PaymentHandle
		}
		h, err := l.payments.RequestCharge(ctx, payment.ChargeRequest{
			ReservationID:  r.ID,
			AmountCents:    r.TotalCostCents,
			IdempotencyKey: key,
		})
		if err != nil {
			l.log.WithError(err).WithFields(logrus.Fields{"pallet_id": palletID, "reservation_id": r.ID}).
				Warn("payment request failed")
			round.Failed = append(round.Failed, r.ID)
			continue
		}
		handles[r.ID] = h
	}

	var stale []string
	err = l.withPallet(ctx, palletID, func(txCtx context.Context, p domain.Pallet) error {
		for _, r := range todo {
			h, ok := handles[r.ID]
			free := r.TotalCostCents <= 0
			if !ok && !free {
				continue
			}
			cur, err := l.repo.GetReservation(txCtx, r.ID)
			if err != nil {
				return err
			}
			if free {
				if cur.Status != domain.ReservationPendingPayment || !needsCharge(cur) || cur.PalletID != p.ID {
					continue
				}
				if err := l.repo.SetPaymentState(txCtx, r.ID, "", domain.PaymentSucceeded); err != nil {
					return err
				}
				round.Settled = append(round.Settled, r.ID)
				continue
			}
			if cur.PaymentHandle == h {
				// A concurrent round recorded the same deduplicated charge.
				continue
			}
			// The reservation may have been reversed or cancelled while the
			// gateway was called.
			if cur.Status != domain.ReservationPendingPayment || !needsCharge(cur) || cur.PalletID != p.ID {
				stale = append(stale, h)
				continue
			}
			if err := l.repo.SetPaymentState(txCtx, r.ID, h, domain.PaymentRequested); err != nil {
				return err
			}
			round.Requested = append(round.Requested, r.ID)
		}

		if p.Status == domain.PalletStatusCompleting {
			counted, err := l.fill.counted(txCtx, p)
			if err != nil {
				return err
			}
			if allCharged(counted) {
				before := snapshot(p, counted)
				from := p.Status
				p.Status = domain.PalletStatusPaymentPending
				p.UpdatedAt = l.clock.Now()
				if err := l.repo.UpdatePallet(txCtx, p); err != nil {
					return err
				}
				if err := l.record(txCtx, p, from, domain.ReasonPaymentsRequested, "system", before, snapshot(p, counted)); err != nil {
					return err
				}
			}
		}
		if err := l.confirmIfPaid(txCtx, &p); err != nil {
			return err
		}
		round.Status = p.Status
		return nil
	})
	l.voidAll(ctx, stale)
	if err != nil {
		return PaymentRound{}, err
	}
	return round, nil
}

// HandlePaymentResult records a payment callback. A pallet whose pending
// reservations have all paid is confirmed together with those reservations.
// Callbacks for a handle that was replaced are ignored.
func (l *Lifecycle) HandlePaymentResult(ctx context.Context, handle string, succeeded bool) (domain.Reservation, error) {
	if handle == "" {
		return domain.Reservation{}, domain.ErrPaymentHandleNotFound
	}
	r, err := l.repo.FindReservationByPaymentHandle(ctx, handle)
	if err != nil {
		return domain.Reservation{}, err
	}

	status := domain.PaymentFailed
	if succeeded {
		status = domain.PaymentSucceeded
	}

	var result domain.Reservation
	var released bool
	err = l.ser.withPairs(ctx, []domain.ZonePair{r.Pair()}, func(txCtx context.Context) error {
		cur, err := l.repo.GetReservation(txCtx, r.ID)
		if err != nil {
			return err
		}
		result = cur
		if cur.PaymentHandle != handle {
			l.log.WithFields(logrus.Fields{"reservation_id": cur.ID, "handle": handle}).Info("ignoring callback for replaced payment handle")
			return nil
		}
		if err := l.repo.SetPaymentState(txCtx, cur.ID, handle, status); err != nil {
			return err
		}
		result.PaymentStatus = status
		if cur.PalletID == "" || cur.Status != domain.ReservationPendingPayment {
			return nil
		}

		p, err := l.repo.GetPalletForUpdate(txCtx, cur.PalletID)
		if err != nil {
			return err
		}
		if err := l.confirmIfPaid(txCtx, &p); err != nil {
			return err
		}
		if p.Status == domain.PalletStatusConfirmed {
			result.Status = domain.ReservationConfirmed
			released = true
		}
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	if released {
		l.log.WithField("pair", r.Pair().Key()).Info("pallet confirmed, pair released")
	}
	return result, nil
}

// confirmIfPaid confirms a PAYMENT_PENDING pallet once every pending_payment
// reservation has paid, then reassigns the pair's remaining reservations since
// the confirmed pallet no longer claims it.
func (l *Lifecycle) confirmIfPaid(ctx context.Context, p *domain.Pallet) error {
	if p.Status != domain.PalletStatusPaymentPending {
		return nil
	}
	counted, err := l.fill.counted(ctx, *p)
	if err != nil {
		return err
	}
	pending := 0
	for _, r := range counted {
		if r.Status != domain.ReservationPendingPayment {
			continue
		}
		if r.PaymentStatus != domain.PaymentSucceeded {
			return nil
		}
		pending++
	}
	if pending == 0 {
		return nil
	}

	before := snapshot(*p, counted)
	from := p.Status
	p.Status = domain.PalletStatusConfirmed
	p.UpdatedAt = l.clock.Now()
	if err := l.repo.UpdatePallet(ctx, *p); err != nil {
		return err
	}
	for i, r := range counted {
		if r.Status != domain.ReservationPendingPayment {
			continue
		}
		if err := l.repo.UpdateReservationStatus(ctx, r.ID, domain.ReservationConfirmed); err != nil {
			return err
		}
		counted[i].Status = domain.ReservationConfirmed
	}
	if err := l.record(ctx, *p, from, domain.ReasonPaymentsSucceeded, "system", before, snapshot(*p, counted)); err != nil {
		return err
	}

	rest, err := l.repo.ListReservationsByPair(ctx, p.Pair())
	if err != nil {
		return err
	}
	assigner := Assigner{repo: l.repo, log: l.log}
	for _, r := range rest {
		if _, err := assigner.Assign(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate reports a pallet's metrics, what its rules say now, and whether the
// stored completion contradicts them.
func (l *Lifecycle) Evaluate(ctx context.Context, palletID string) (CompletionReport, error) {
	var rep CompletionReport
	err := l.withPallet(ctx, palletID, func(txCtx context.Context, p domain.Pallet) error {
		var err error
		rep, err = l.report(txCtx, p)
		return err
	})
	if err != nil {
		return CompletionReport{}, err
	}
	return rep, nil
}

func (l *Lifecycle) report(ctx context.Context, p domain.Pallet) (CompletionReport, error) {
	m, err := l.fill.Compute(ctx, p)
	if err != nil {
		return CompletionReport{}, err
	}
	exp := rules.Explain(p.CompletionRules, m.Values())
	return CompletionReport{
		PalletID:      p.ID,
		Status:        p.Status,
		IsComplete:    p.IsComplete,
		Metrics:       m,
		WouldComplete: exp.Outcome,
		Explanation:   exp,
		Inconsistent:  inconsistent(p, m, exp.Outcome),
	}, nil
}

// inconsistent is true for a completed pallet that is below capacity and whose
// rules now evaluate false. Pallets without rules are never flagged.
func inconsistent(p domain.Pallet, m Metrics, outcome rules.Outcome) bool {
	return p.IsComplete && !p.Status.Terminal() && m.Bottles < p.BottleCapacity && outcome == rules.False
}

// DetectInconsistent evaluates every completed, unconfirmed pallet and returns
// the inconsistent ones. Nothing is reversed.
func (l *Lifecycle) DetectInconsistent(ctx context.Context) ([]CompletionReport, error) {
	pallets, err := l.repo.ListPallets(ctx, PalletFilter{})
	if err != nil {
		return nil, err
	}
	out := []CompletionReport{}
	for _, p := range pallets {
		if !p.IsComplete || p.Status.Terminal() {
			continue
		}
		rep, err := l.Evaluate(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if !rep.Inconsistent {
			continue
		}
		l.log.WithFields(logrus.Fields{
			"pallet_id": p.ID,
			"bottles":   rep.Metrics.Bottles,
			"capacity":  rep.Metrics.Capacity,
		}).Warn("completed pallet no longer satisfies its rules")
		out = append(out, rep)
	}
	return out, nil
}

type ReversalResult struct {
	Pallet   domain.Pallet `json:"pallet"`
	Reverted []string      `json:"reverted"`
	Voided   []string      `json:"voided"`
}

// ReverseCompletion returns a completed pallet to OPEN and every
// pending_payment reservation on it to placed. confirm must be "RESET".
// Outstanding charges are voided after the commit.
func (l *Lifecycle) ReverseCompletion(ctx context.Context, palletID, confirm, actor string) (ReversalResult, error) {
	if confirm != domain.ReversalConfirmation {
		return ReversalResult{}, domain.ErrReversalNotConfirmed
	}

	var res ReversalResult
	var handles []string
	err := l.withPallet(ctx, palletID, func(txCtx context.Context, p domain.Pallet) error {
		if p.Status.Terminal() {
			return domain.ErrPalletConfirmed
		}
		if !p.IsComplete {
			return domain.ErrPalletNotComplete
		}

		rep, err := l.report(txCtx, p)
		if err != nil {
			return err
		}
		if !rep.Inconsistent {
			l.log.WithFields(logrus.Fields{"pallet_id": p.ID, "would_complete": rep.WouldComplete.String()}).
				Warn("reversing a completion that is not inconsistent")
		}

		affected, err := l.reversible(txCtx, p)
		if err != nil {
			return err
		}
		before := snapshot(p, affected)

		res.Reverted = []string{}
		for i, r := range affected {
			if r.Status != domain.ReservationPendingPayment {
				continue
			}
			if err := l.repo.UpdateReservationStatus(txCtx, r.ID, domain.ReservationPlaced); err != nil {
				return err
			}
			if r.PaymentHandle != "" && r.PaymentStatus != domain.PaymentFailed {
				handles = append(handles, r.PaymentHandle)
			}
			if err := l.repo.SetPaymentState(txCtx, r.ID, "", domain.PaymentNone); err != nil {
				return err
			}
			affected[i].Status = domain.ReservationPlaced
			affected[i].PaymentHandle = ""
			affected[i].PaymentStatus = domain.PaymentNone
			res.Reverted = append(res.Reverted, r.ID)
		}

		from := p.Status
		p.Status = domain.PalletStatusOpen
		p.IsComplete = false
		p.CompletedAt = nil
		p.PaymentDeadline = nil
		p.UpdatedAt = l.clock.Now()
		if err := l.repo.UpdatePallet(txCtx, p); err != nil {
			return err
		}
		if err := l.record(txCtx, p, from, domain.ReasonAdminReversal, actor, before, snapshot(p, affected)); err != nil {
			return err
		}
		res.Pallet = p
		return nil
	})
	if err != nil {
		return ReversalResult{}, err
	}

	res.Voided = l.voidAll(ctx, handles)
	return res, nil
}

// reversible returns the pallet's counted reservations plus any reservation
// still caching the pallet id, deduplicated.
func (l *Lifecycle) reversible(ctx context.Context, p domain.Pallet) ([]domain.Reservation, error) {
	counted, err := l.fill.counted(ctx, p)
	if err != nil {
		return nil, err
	}
	cached, err := l.repo.ListReservationsByPallet(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(counted))
	for _, r := range counted {
		seen[r.ID] = true
	}
	for _, r := range cached {
		if !seen[r.ID] && r.Status == domain.ReservationPendingPayment {
			counted = append(counted, r)
		}
	}
	return counted, nil
}

func (l *Lifecycle) withPallet(ctx context.Context, palletID string, fn func(ctx context.Context, p domain.Pallet) error) error {
	p, err := l.repo.GetPallet(ctx, palletID)
	if err != nil {
		return err
	}
	return l.ser.withPairs(ctx, []domain.ZonePair{p.Pair()}, func(txCtx context.Context) error {
		locked, err := l.repo.GetPalletForUpdate(txCtx, palletID)
		if err != nil {
			return err
		}
		if locked.Pair() != p.Pair() {
			return fmt.Errorf("pallet %s: zone pair changed concurrently", palletID)
		}
		return fn(txCtx, locked)
	})
}

func (l *Lifecycle) requestPaymentsAfterCommit(ctx context.Context, palletID string) {
	round, err := l.RequestPayments(ctx, palletID)
	if err != nil {
		l.log.WithError(err).WithField("pallet_id", palletID).Warn("requesting payments failed, will retry")
		return
	}
	if len(round.Failed) > 0 {
		l.log.WithFields(logrus.Fields{"pallet_id": palletID, "failed": round.Failed}).Warn("some payment requests failed, will retry")
	}
}

func (l *Lifecycle) voidAll(ctx context.Context, handles []string) []string {
	voided := []string{}
	for _, h := range handles {
		if err := l.payments.Void(ctx, h); err != nil {
			l.log.WithError(err).WithField("handle", h).Error("voiding payment failed")
			continue
		}
		voided = append(voided, h)
	}
	return voided
}

func (l *Lifecycle) record(ctx context.Context, p domain.Pallet, from domain.PalletStatus, reason, actor string, before, after json.RawMessage) error {
	if actor == "" {
		actor = "system"
	}
	t := domain.PalletTransition{
		ID:       newUUID(),
		PalletID: p.ID,
		From:     from,
		To:       p.Status,
		Reason:   reason,
		Actor:    actor,
		Before:   before,
		After:    after,
		At:       l.clock.Now(),
	}
	if err := l.repo.RecordTransition(ctx, t); err != nil {
		return err
	}
	l.audit.WithFields(logrus.Fields{
		"pallet_id": p.ID,
		"pair":      p.Pair().Key(),
		"from":      from,
		"to":        p.Status,
		"reason":    reason,
		"actor":     actor,
		"before":    before,
		"after":     after,
	}).Info("pallet transition")
	return nil
}

func needsCharge(r domain.Reservation) bool {
	return r.Status == domain.ReservationPendingPayment &&
		(r.PaymentStatus == domain.PaymentNone || r.PaymentStatus == domain.PaymentFailed || r.PaymentStatus == "")
}

// allCharged reports whether there is at least one pending_payment reservation
// and every one of them has an outstanding or settled charge.
func allCharged(rs []domain.Reservation) bool {
	n := 0
	for _, r := range rs {
		if r.Status != domain.ReservationPendingPayment {
			continue
		}
		if needsCharge(r) {
			return false
		}
		n++
	}
	return n > 0
}

type palletSnapshot struct {
	ID              string              `json:"id"`
	Status          domain.PalletStatus `json:"status"`
	IsComplete      bool                `json:"is_complete"`
	CompletedAt     *time.Time          `json:"completed_at"`
	PaymentDeadline *time.Time          `json:"payment_deadline"`
	Reservations    []reservationState  `json:"reservations"`
}

type reservationState struct {
	ID            string                   `json:"id"`
	Status        domain.ReservationStatus `json:"status"`
	PaymentStatus domain.PaymentStatus     `json:"payment_status"`
	PaymentHandle string                   `json:"payment_handle,omitempty"`
}

func snapshot(p domain.Pallet, rs []domain.Reservation) json.RawMessage {
	s := palletSnapshot{
		ID:              p.ID,
		Status:          p.Status,
		IsComplete:      p.IsComplete,
		CompletedAt:     p.CompletedAt,
		PaymentDeadline: p.PaymentDeadline,
		Reservations:    make([]reservationState, 0, len(rs)),
	}
	for _, r := range rs {
		s.Reservations = append(s.Reservations, reservationState{
			ID:            r.ID,
			Status:        r.Status,
			PaymentStatus: r.PaymentStatus,
			PaymentHandle: r.PaymentHandle,
		})
	}
	b, _ := json.Marshal(s)
	return b
}
