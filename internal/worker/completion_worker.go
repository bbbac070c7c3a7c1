// Package worker runs the periodic pallet checks next to the HTTP server.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

const (
	minInterval     = time.Second
	defaultInterval = time.Minute
	actor           = "worker"
)

type PalletLister interface {
	ListPallets(ctx context.Context, filter app.PalletFilter) ([]domain.Pallet, error)
}

// Lifecycle is the part of app.Lifecycle the worker drives.
type Lifecycle interface {
	Advance(ctx context.Context, palletID, actor string) (app.AdvanceResult, error)
	RequestPayments(ctx context.Context, palletID string) (app.PaymentRound, error)
	DetectInconsistent(ctx context.Context) ([]app.CompletionReport, error)
}

// CompletionWorker re-evaluates OPEN pallets, retries payment requests for
// completed ones and reports completions that no longer hold. Checkout does
// the same work inline; the worker catches what a crash or a gateway outage
// left behind.
type CompletionWorker struct {
	pallets   PalletLister
	lifecycle Lifecycle
	interval  time.Duration
	log       logrus.FieldLogger
}

func NewCompletionWorker(pallets PalletLister, lifecycle Lifecycle, interval time.Duration, log logrus.FieldLogger) *CompletionWorker {
	if interval < minInterval {
		interval = defaultInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CompletionWorker{
		pallets:   pallets,
		lifecycle: lifecycle,
		interval:  interval,
		log:       log.WithField("component", "completion_worker"),
	}
}

// Summary counts what one pass did.
type Summary struct {
	Evaluated     int
	Completed     int
	PaymentRounds int
	Inconsistent  int
	Errors        int
}

// Start blocks until ctx is cancelled, running one pass per interval.
func (w *CompletionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.interval.String()).Info("completion worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("completion worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *CompletionWorker) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("panic", r).Error("completion pass panicked, retrying next tick")
		}
	}()

	s, err := w.RunOnce(ctx)
	if err != nil {
		w.log.WithError(err).Error("completion pass failed")
		return
	}
	if s.Completed > 0 || s.Inconsistent > 0 || s.Errors > 0 {
		w.log.WithFields(logrus.Fields{
			"evaluated":      s.Evaluated,
			"completed":      s.Completed,
			"payment_rounds": s.PaymentRounds,
			"inconsistent":   s.Inconsistent,
			"errors":         s.Errors,
		}).Info("completion pass")
	}
}

// RunOnce makes a single pass. Errors on one pallet are logged and counted
// and do not stop the others.
func (w *CompletionWorker) RunOnce(ctx context.Context) (Summary, error) {
	var s Summary

	pallets, err := w.pallets.ListPallets(ctx, app.PalletFilter{})
	if err != nil {
		return s, err
	}
	for _, p := range pallets {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		switch p.Status {
		case domain.PalletStatusOpen:
			s.Evaluated++
			res, err := w.lifecycle.Advance(ctx, p.ID, actor)
			if err != nil {
				s.Errors++
				w.log.WithError(err).WithField("pallet_id", p.ID).Warn("advance failed")
				continue
			}
			if res.Transitioned {
				s.Completed++
			}
		case domain.PalletStatusCompleting, domain.PalletStatusPaymentPending:
			round, err := w.lifecycle.RequestPayments(ctx, p.ID)
			if err != nil {
				s.Errors++
				w.log.WithError(err).WithField("pallet_id", p.ID).Warn("payment request failed")
				continue
			}
			if len(round.Requested) > 0 || len(round.Failed) > 0 {
				s.PaymentRounds++
			}
		}
	}

	reports, err := w.lifecycle.DetectInconsistent(ctx)
	if err != nil {
		return s, err
	}
	s.Inconsistent = len(reports)
	return s, nil
}
