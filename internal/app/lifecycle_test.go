package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

func TestLifecycle_CompletionRequestsPaymentsAndConfirms(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(100))

	a := e.place(t, "user-a", "wine-red", 60)
	assert.False(t, a.Completed)
	b := e.place(t, "user-b", "wine-red", 40)
	assert.True(t, b.Completed)

	got := e.store.pallet(p.ID)
	assert.Equal(t, domain.PalletStatusPaymentPending, got.Status)
	assert.True(t, got.IsComplete)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, testNow, *got.CompletedAt)
	require.NotNil(t, got.PaymentDeadline)
	assert.Equal(t, testNow.Add(defaultPaymentWindow), *got.PaymentDeadline)

	ra := e.store.reservation(a.Reservation.ID)
	rb := e.store.reservation(b.Reservation.ID)
	for _, r := range []domain.Reservation{ra, rb} {
		assert.Equal(t, domain.ReservationPendingPayment, r.Status)
		assert.Equal(t, domain.PaymentRequested, r.PaymentStatus)
		assert.NotEmpty(t, r.PaymentHandle)
	}
	assert.Len(t, e.payments.Charges(), 2)

	_, err := e.lifecycle.HandlePaymentResult(ctx, ra.PaymentHandle, true)
	require.NoError(t, err)
	assert.Equal(t, domain.PalletStatusPaymentPending, e.store.pallet(p.ID).Status)

	res, err := e.lifecycle.HandlePaymentResult(ctx, rb.PaymentHandle, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, res.Status)
	assert.Equal(t, domain.PalletStatusConfirmed, e.store.pallet(p.ID).Status)
	assert.Equal(t, domain.ReservationConfirmed, e.store.reservation(ra.ID).Status)

	assert.Equal(t, 1, e.store.transitionsTo(domain.PalletStatusCompleting))
	assert.Equal(t, 1, e.store.transitionsTo(domain.PalletStatusPaymentPending))
	assert.Equal(t, 1, e.store.transitionsTo(domain.PalletStatusConfirmed))

	// The confirmed pallet no longer claims the pair.
	active, err := e.registry.Lookup(ctx, cityPair)
	require.NoError(t, err)
	assert.Nil(t, active)
	next := e.place(t, "user-c", "wine-red", 6)
	assert.Equal(t, domain.AwaitingPallet, next.Assignment.State)

	// Confirmed reservations keep counting toward their historic pallet.
	m, err := e.fill.Compute(ctx, e.store.pallet(p.ID))
	require.NoError(t, err)
	assert.Equal(t, 100, m.Bottles)
}

func TestLifecycle_WithPaymentWindow(t *testing.T) {
	e := newTestEngine(t)
	e.lifecycle = NewLifecycle(e.store, e.locks, e.fill, e.payments, e.clock, nil, WithPaymentWindow(24*time.Hour))
	e.checkout.lifecycle = e.lifecycle

	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(10))
	e.place(t, "user-a", "wine-red", 10)

	got := e.store.pallet(p.ID)
	require.NotNil(t, got.PaymentDeadline)
	assert.Equal(t, testNow.Add(24*time.Hour), *got.PaymentDeadline)
}

func TestLifecycle_FailedPaymentIsRetriedWithNewCharge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(10))

	a := e.place(t, "user-a", "wine-red", 10)
	first := e.store.reservation(a.Reservation.ID).PaymentHandle
	require.NotEmpty(t, first)

	res, err := e.lifecycle.HandlePaymentResult(ctx, first, false)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, res.PaymentStatus)
	assert.Equal(t, domain.PalletStatusPaymentPending, e.store.pallet(p.ID).Status)

	round, err := e.lifecycle.RequestPayments(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.Reservation.ID}, round.Requested)

	second := e.store.reservation(a.Reservation.ID).PaymentHandle
	assert.NotEqual(t, first, second)

	// The replaced handle no longer resolves.
	_, err = e.lifecycle.HandlePaymentResult(ctx, first, true)
	assert.ErrorIs(t, err, domain.ErrPaymentHandleNotFound)

	_, err = e.lifecycle.HandlePaymentResult(ctx, second, true)
	require.NoError(t, err)
	assert.Equal(t, domain.PalletStatusConfirmed, e.store.pallet(p.ID).Status)
}

func TestLifecycle_GatewayOutageLeavesPalletCompleting(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(10))

	e.payments.FailWith(errors.New("gateway unavailable"))
	placed := e.place(t, "user-a", "wine-red", 12)
	assert.True(t, placed.Completed)
	assert.Equal(t, domain.PalletStatusCompleting, e.store.pallet(p.ID).Status)
	assert.Equal(t, domain.PaymentNone, e.store.reservation(placed.Reservation.ID).PaymentStatus)

	round, err := e.lifecycle.RequestPayments(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{placed.Reservation.ID}, round.Failed)
	assert.Equal(t, domain.PalletStatusCompleting, round.Status)

	e.payments.FailWith(nil)
	round, err = e.lifecycle.RequestPayments(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PalletStatusPaymentPending, round.Status)

	// A second round has nothing left to charge.
	round, err = e.lifecycle.RequestPayments(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, round.Requested)
	assert.Len(t, e.payments.Charges(), 1)
}

func TestLifecycle_FreeReservationsSettleWithoutCharge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(10))

	placeFree := func(user string, qty int) PlaceReservationResult {
		res, err := e.checkout.PlaceReservation(ctx, PlaceReservationInput{
			UserID:         user,
			Items:          []ItemInput{{WineID: "wine-red", Quantity: qty, PriceCents: 0}},
			DeliveryZoneID: deliveryCity,
		})
		require.NoError(t, err)
		return res
	}

	placed := placeFree("user-sample", 10)
	assert.True(t, placed.Completed)

	assert.Empty(t, e.payments.Charges())
	r := e.store.reservation(placed.Reservation.ID)
	assert.Equal(t, domain.ReservationConfirmed, r.Status)
	assert.Equal(t, domain.PaymentSucceeded, r.PaymentStatus)
	assert.Empty(t, r.PaymentHandle)
	assert.Equal(t, domain.PalletStatusConfirmed, e.store.pallet(p.ID).Status)

	round, err := e.lifecycle.RequestPayments(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, round.Failed)
}

func TestLifecycle_FreeAndPaidReservationsShareARound(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(20))

	free, err := e.checkout.PlaceReservation(ctx, PlaceReservationInput{
		UserID:         "user-sample",
		Items:          []ItemInput{{WineID: "wine-red", Quantity: 10, PriceCents: 0}},
		DeliveryZoneID: deliveryCity,
	})
	require.NoError(t, err)

	e.payments.FailWith(errors.New("gateway unavailable"))
	paid := e.place(t, "user-paid", "wine-red", 10)
	require.True(t, paid.Completed)
	require.Equal(t, domain.PalletStatusCompleting, e.store.pallet(p.ID).Status)

	e.payments.FailWith(nil)
	round, err := e.lifecycle.RequestPayments(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, round.Failed)
	assert.Equal(t, []string{paid.Reservation.ID}, round.Requested)
	assert.Equal(t, domain.PalletStatusPaymentPending, round.Status)
	assert.Equal(t, domain.PaymentSucceeded, e.store.reservation(free.Reservation.ID).PaymentStatus)

	charges := e.payments.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, paid.Reservation.ID, charges[0].ReservationID)

	_, err = e.lifecycle.HandlePaymentResult(ctx, e.store.reservation(paid.Reservation.ID).PaymentHandle, true)
	require.NoError(t, err)
	assert.Equal(t, domain.PalletStatusConfirmed, e.store.pallet(p.ID).Status)
	assert.Equal(t, domain.ReservationConfirmed, e.store.reservation(free.Reservation.ID).Status)
}

func TestLifecycle_CapacityIsNotACompletionTrigger(t *testing.T) {
	e := newTestEngine(t)
	p := e.registerPallet(t, cityPair, 100, bottlesAtLeast(500))

	placed := e.place(t, "user-a", "wine-red", 100)
	assert.False(t, placed.Completed)
	require.NotNil(t, placed.Metrics)
	assert.InDelta(t, 100.0, placed.Metrics.FillPercent, 0.0001)

	got := e.store.pallet(p.ID)
	assert.Equal(t, domain.PalletStatusOpen, got.Status)
	assert.False(t, got.IsComplete)
	assert.Zero(t, e.store.transitionsTo(domain.PalletStatusCompleting))
}

func TestLifecycle_NoRulesIsIndeterminate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.registerPallet(t, cityPair, 600, rules.RuleSet{})

	e.place(t, "user-a", "wine-red", 600)
	adv, err := e.lifecycle.Advance(ctx, p.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, rules.Indeterminate, adv.Outcome)
	assert.False(t, adv.Transitioned)

	// A completed pallet whose rules were later removed is not flagged.
	complete := e.store.pallet(p.ID)
	complete.Status = domain.PalletStatusCompleting
	complete.IsComplete = true
	e.store.seedPallet(complete)

	rep, err := e.lifecycle.Evaluate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, rules.Indeterminate, rep.WouldComplete)
	assert.False(t, rep.Inconsistent)
}

func TestLifecycle_LateJoinerIsBilledImmediately(t *testing.T) {
	e := newTestEngine(t)
	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(10))

	e.place(t, "user-a", "wine-red", 10)
	require.Equal(t, domain.PalletStatusPaymentPending, e.store.pallet(p.ID).Status)

	late := e.place(t, "user-late", "wine-red", 5)
	assert.False(t, late.Completed)
	assert.Equal(t, p.ID, late.Reservation.PalletID)
	assert.Equal(t, domain.ReservationPendingPayment, late.Reservation.Status)
	assert.Equal(t, domain.PaymentRequested, late.Reservation.PaymentStatus)
	assert.Equal(t, 1, e.store.transitionsTo(domain.PalletStatusCompleting))
}

func TestLifecycle_ReversalAfterCancellation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(600))

	a := e.place(t, "user-a", "wine-red", 550)
	b := e.place(t, "user-b", "wine-red", 50)
	require.True(t, b.Completed)
	handleA := e.store.reservation(a.Reservation.ID).PaymentHandle
	require.NotEmpty(t, handleA)

	cancelled, err := e.checkout.CancelReservation(ctx, b.Reservation.ID)
	require.NoError(t, err)
	require.NotNil(t, cancelled.Completion)
	assert.True(t, cancelled.Completion.Inconsistent)
	assert.True(t, cancelled.Completion.IsComplete)
	assert.Equal(t, rules.False, cancelled.Completion.WouldComplete)
	assert.Equal(t, 550, cancelled.Completion.Metrics.Bottles)

	// Cancelling does not reverse anything by itself.
	assert.Equal(t, domain.PalletStatusPaymentPending, e.store.pallet(p.ID).Status)

	flagged, err := e.lifecycle.DetectInconsistent(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, p.ID, flagged[0].PalletID)

	_, err = e.lifecycle.ReverseCompletion(ctx, p.ID, "reset", "ops")
	assert.ErrorIs(t, err, domain.ErrReversalNotConfirmed)
	assert.Equal(t, domain.PalletStatusPaymentPending, e.store.pallet(p.ID).Status)

	rev, err := e.lifecycle.ReverseCompletion(ctx, p.ID, domain.ReversalConfirmation, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{a.Reservation.ID}, rev.Reverted)
	assert.Equal(t, []string{handleA}, rev.Voided)

	got := e.store.pallet(p.ID)
	assert.Equal(t, domain.PalletStatusOpen, got.Status)
	assert.False(t, got.IsComplete)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.PaymentDeadline)

	ra := e.store.reservation(a.Reservation.ID)
	assert.Equal(t, domain.ReservationPlaced, ra.Status)
	assert.Equal(t, domain.PaymentNone, ra.PaymentStatus)
	assert.Empty(t, ra.PaymentHandle)
	for _, c := range e.payments.Charges() {
		assert.True(t, c.Voided, c.Handle)
	}

	transitions, err := e.store.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	last := transitions[len(transitions)-1]
	assert.Equal(t, domain.ReasonAdminReversal, last.Reason)
	assert.Equal(t, "ops", last.Actor)
	assert.Equal(t, domain.PalletStatusPaymentPending, last.From)
	assert.Equal(t, domain.PalletStatusOpen, last.To)
	assert.Contains(t, string(last.Before), `"pending_payment"`)

	_, err = e.lifecycle.ReverseCompletion(ctx, p.ID, domain.ReversalConfirmation, "ops")
	assert.ErrorIs(t, err, domain.ErrPalletNotComplete)

	flagged, err = e.lifecycle.DetectInconsistent(ctx)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestLifecycle_ConfirmedPalletCannotBeReversed(t *testing.T) {
	e := newTestEngine(t)
	e.store.seedPallet(domain.Pallet{
		ID: "done", PickupZoneID: pickupSouth, DeliveryZoneID: deliveryCity,
		Status: domain.PalletStatusConfirmed, IsComplete: true, BottleCapacity: 600,
	})

	_, err := e.lifecycle.ReverseCompletion(context.Background(), "done", domain.ReversalConfirmation, "ops")
	assert.ErrorIs(t, err, domain.ErrPalletConfirmed)
}

func TestLifecycle_ConcurrentCheckoutsCompleteOnce(t *testing.T) {
	for _, tc := range []struct {
		name    string
		orders  int
		bottles int
	}{
		{name: "two halves", orders: 2, bottles: 300},
		{name: "eight tenths", orders: 8, bottles: 100},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t)
			p := e.registerPallet(t, cityPair, 600, bottlesAtLeast(600))

			var wg sync.WaitGroup
			errs := make(chan error, tc.orders)
			for i := 0; i < tc.orders; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := e.checkout.PlaceReservation(context.Background(), PlaceReservationInput{
						UserID:         fmt.Sprintf("user-%d", i),
						Items:          []ItemInput{{WineID: "wine-red", Quantity: tc.bottles, PriceCents: 19900}},
						DeliveryZoneID: deliveryCity,
					})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			assert.Equal(t, 1, e.store.transitionsTo(domain.PalletStatusCompleting))
			assert.Equal(t, 1, e.store.transitionsTo(domain.PalletStatusPaymentPending))
			assert.Equal(t, domain.PalletStatusPaymentPending, e.store.pallet(p.ID).Status)

			rs, err := e.store.ListReservationsByPallet(context.Background(), p.ID)
			require.NoError(t, err)
			require.Len(t, rs, tc.orders)
			for _, r := range rs {
				assert.Equal(t, domain.ReservationPendingPayment, r.Status)
				assert.Equal(t, domain.PaymentRequested, r.PaymentStatus)
			}
			assert.Len(t, e.payments.Charges(), tc.orders)
			assert.Equal(t, 0, e.locks.Len())
		})
	}
}
