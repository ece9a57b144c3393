package engine

import (
	"sync"
	"time"
)

// TimerHooks receive timer events. All hooks are invoked from the ticking
// goroutine without the timer lock held.
type TimerHooks struct {
	OnTick    func(remaining time.Duration)
	OnWarning func(threshold, remaining time.Duration)
	OnExpire  func()
}

// Timer derives remaining time from a server-anchored start time plus a
// duration. Every reading is recomputed from the anchor, never from a
// decremented counter, so suspended or delayed ticks cannot drift the clock.
type Timer struct {
	anchor   time.Time
	limit    time.Duration
	now      func() time.Time
	hooks    TimerHooks
	warnings []time.Duration

	mu      sync.Mutex
	fired   map[time.Duration]bool
	expired bool
	stopped bool
	stopCh  chan struct{}
}

func NewTimer(anchor time.Time, limit time.Duration, warnings []time.Duration, hooks TimerHooks) *Timer {
	return newTimerWithClock(anchor, limit, warnings, hooks, time.Now)
}

// newTimerWithClock allows deterministic readings in tests.
func newTimerWithClock(anchor time.Time, limit time.Duration, warnings []time.Duration, hooks TimerHooks, now func() time.Time) *Timer {
	return &Timer{
		anchor:   anchor,
		limit:    limit,
		now:      now,
		hooks:    hooks,
		warnings: warnings,
		fired:    make(map[time.Duration]bool),
		stopCh:   make(chan struct{}),
	}
}

// Remaining recomputes the time left from the anchor.
func (t *Timer) Remaining() time.Duration {
	elapsed := t.now().Sub(t.anchor)
	if elapsed >= t.limit {
		return 0
	}
	return t.limit - elapsed
}

// Start begins ticking at the given cadence.
func (t *Timer) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.tick()
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Stop halts ticking. Safe to call more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stopCh)
}

// Expired reports whether the timer has crossed zero.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// tick evaluates warnings and expiry for the current remaining time.
// Warnings fire once each on "remaining <= threshold", not exact equality,
// so a delayed tick cannot skip past one. Expiry fires exactly once and
// stops the timer.
func (t *Timer) tick() {
	remaining := t.Remaining()

	t.mu.Lock()
	var crossed []time.Duration
	if remaining > 0 {
		for _, threshold := range t.warnings {
			if remaining <= threshold && !t.fired[threshold] {
				t.fired[threshold] = true
				crossed = append(crossed, threshold)
			}
		}
	}
	expiredNow := false
	if remaining == 0 && !t.expired {
		t.expired = true
		expiredNow = true
		t.stopLocked()
	}
	t.mu.Unlock()

	if t.hooks.OnTick != nil {
		t.hooks.OnTick(remaining)
	}
	for _, threshold := range crossed {
		if t.hooks.OnWarning != nil {
			t.hooks.OnWarning(threshold, remaining)
		}
	}
	if expiredNow && t.hooks.OnExpire != nil {
		t.hooks.OnExpire()
	}
}
