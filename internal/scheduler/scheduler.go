// Package scheduler owns timer-driven work: per-battle countdown and
// completion timers, and the periodic challenge expiry sweep.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Step is one scheduled action relative to schedule time.
type Step struct {
	After time.Duration
	Run   func()
}

// BattleTimers tracks pending timers keyed by battle id so that cancelling a
// battle also cancels its countdown and completion timers. Without this, a
// cancelled battle's completion timer would still fire against stale state.
type BattleTimers struct {
	mu     sync.Mutex
	timers map[string][]*time.Timer
}

// NewBattleTimers constructs an empty timer set.
func NewBattleTimers() *BattleTimers {
	return &BattleTimers{timers: make(map[string][]*time.Timer)}
}

// Schedule registers the steps for a battle, replacing any prior schedule.
func (t *BattleTimers) Schedule(battleID string, steps []Step) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopPending(battleID)

	pending := make([]*time.Timer, 0, len(steps))
	for _, step := range steps {
		pending = append(pending, time.AfterFunc(step.After, step.Run))
	}
	t.timers[battleID] = pending
}

// Cancel stops all pending timers for the battle. Steps already running are
// not interrupted; they must re-check state themselves.
func (t *BattleTimers) Cancel(battleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopPending(battleID)
}

// stopPending requires t.mu to be held.
func (t *BattleTimers) stopPending(battleID string) {
	for _, timer := range t.timers[battleID] {
		timer.Stop()
	}
	delete(t.timers, battleID)
}

// Stop cancels every pending timer.
func (t *BattleTimers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timers := range t.timers {
		for _, timer := range timers {
			timer.Stop()
		}
		delete(t.timers, id)
	}
}

// Sweeper periodically expires challenges that passed their end date.
type Sweeper struct {
	expire           func(context.Context) error
	interval         time.Duration
	shutdownComplete chan struct{}
}

// NewSweeper constructs a Sweeper around the expiry operation.
func NewSweeper(expire func(context.Context) error, interval time.Duration) *Sweeper {
	return &Sweeper{
		expire:           expire,
		interval:         interval,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the sweep loop. It should be called in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for {
		if err := s.expire(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("challenge expiry sweep error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the sweep loop stops.
func (s *Sweeper) Wait() {
	<-s.shutdownComplete
}
