package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

type fakePallets []domain.Pallet

func (f fakePallets) ListPallets(context.Context, app.PalletFilter) ([]domain.Pallet, error) {
	return f, nil
}

type fakeLifecycle struct {
	mu         sync.Mutex
	advanced   []string
	requested  []string
	detections int
	complete   map[string]bool
	failing    map[string]bool
	panicking  bool
	reports    []app.CompletionReport
}

func (f *fakeLifecycle) Advance(_ context.Context, id, actor string) (app.AdvanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicking {
		panic("boom")
	}
	f.advanced = append(f.advanced, id)
	if f.failing[id] {
		return app.AdvanceResult{}, errors.New("db down")
	}
	return app.AdvanceResult{Transitioned: f.complete[id]}, nil
}

func (f *fakeLifecycle) RequestPayments(_ context.Context, id string) (app.PaymentRound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, id)
	return app.PaymentRound{PalletID: id, Requested: []string{"r-" + id}}, nil
}

func (f *fakeLifecycle) DetectInconsistent(context.Context) ([]app.CompletionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections++
	return f.reports, nil
}

func (f *fakeLifecycle) detectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detections
}

func testPallets() fakePallets {
	return fakePallets{
		{ID: "open-1", Status: domain.PalletStatusOpen},
		{ID: "open-2", Status: domain.PalletStatusOpen},
		{ID: "completing", Status: domain.PalletStatusCompleting},
		{ID: "pending", Status: domain.PalletStatusPaymentPending},
		{ID: "done", Status: domain.PalletStatusConfirmed},
	}
}

func TestRunOnce_DispatchesByStatus(t *testing.T) {
	lc := &fakeLifecycle{
		complete: map[string]bool{"open-2": true},
		reports:  []app.CompletionReport{{PalletID: "pending", Inconsistent: true}},
	}
	log, _ := test.NewNullLogger()
	w := NewCompletionWorker(testPallets(), lc, time.Minute, log)

	s, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"open-1", "open-2"}, lc.advanced)
	assert.Equal(t, []string{"completing", "pending"}, lc.requested)
	assert.Equal(t, Summary{Evaluated: 2, Completed: 1, PaymentRounds: 2, Inconsistent: 1}, s)
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	lc := &fakeLifecycle{failing: map[string]bool{"open-1": true}}
	log, hook := test.NewNullLogger()
	w := NewCompletionWorker(testPallets(), lc, time.Minute, log)

	s, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, []string{"open-1", "open-2"}, lc.advanced)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, 1, lc.detectCount())
}

func TestRunOnce_StopsOnCancelledContext(t *testing.T) {
	lc := &fakeLifecycle{}
	w := NewCompletionWorker(testPallets(), lc, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, lc.advanced)
}

func TestTick_RecoversFromPanic(t *testing.T) {
	lc := &fakeLifecycle{panicking: true}
	log, hook := test.NewNullLogger()
	w := NewCompletionWorker(testPallets(), lc, time.Minute, log)

	assert.NotPanics(t, func() { w.tick(context.Background()) })
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "panicked")
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	lc := &fakeLifecycle{}
	w := NewCompletionWorker(testPallets(), lc, time.Second, nil)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return lc.detectCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewCompletionWorker_DefaultInterval(t *testing.T) {
	w := NewCompletionWorker(fakePallets{}, &fakeLifecycle{}, 0, nil)
	assert.Equal(t, defaultInterval, w.interval)
}
