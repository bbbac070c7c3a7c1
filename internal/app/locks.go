package app

import (
	"context"
	"sort"
	"sync"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

// PairLocks is an in-process keyed mutex. Each zone pair key has a one-slot
// channel; holding the slot means holding the lock, which lets waiters give up
// when their context is cancelled.
type PairLocks struct {
	mu    sync.Mutex
	slots map[string]*pairSlot
}

type pairSlot struct {
	ch   chan struct{}
	refs int
}

func NewPairLocks() *PairLocks {
	return &PairLocks{slots: make(map[string]*pairSlot)}
}

// Lock acquires every key in sorted order and returns a function releasing
// them. On error nothing is held.
func (l *PairLocks) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedKeys(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.releaseAll(held) })
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (l *PairLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *PairLocks) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &pairSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(key, s)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *PairLocks) releaseAll(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(keys) - 1; i >= 0; i-- {
		s := l.slots[keys[i]]
		<-s.ch
		l.unref(keys[i], s)
	}
}

func (l *PairLocks) unref(key string, s *pairSlot) {
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func sortedKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func pairKeys(pairs ...domain.ZonePair) []string {
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.Complete() {
			keys = append(keys, p.Key())
		}
	}
	return sortedKeys(keys)
}

// serializer runs fn inside a transaction while holding the in-process lock
// and the store's transaction-scoped lock for every pair.
type serializer struct {
	locks *PairLocks
	repo  Repository
}

func (s serializer) withPairs(ctx context.Context, pairs []domain.ZonePair, fn func(ctx context.Context) error) error {
	keys := pairKeys(pairs...)
	unlock, err := s.locks.Lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()

	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.LockPairs(txCtx, keys); err != nil {
			return err
		}
		return fn(txCtx)
	})
}
