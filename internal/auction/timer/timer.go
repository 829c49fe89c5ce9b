// Package timer provides the countdown for one auction round. The clock is
// injected via clockwork so tests can drive time deterministically.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RoundTimer is a cancellable, restartable, pausable countdown. It fires its
// expiry callback exactly once per armed run unless cancelled or restarted
// first. A generation counter guards against a stale expiry firing after the
// countdown has been replaced.
type RoundTimer struct {
	clock    clockwork.Clock
	onExpire func()

	mu        sync.Mutex
	gen       uint64
	timer     clockwork.Timer
	running   bool
	paused    bool
	remaining time.Duration
	deadline  time.Time
}

// New creates a RoundTimer. onExpire runs outside the timer's lock, so the
// callback may call back into the timer.
func New(clock clockwork.Clock, onExpire func()) *RoundTimer {
	return &RoundTimer{clock: clock, onExpire: onExpire}
}

// Start arms a fresh countdown of d, implicitly cancelling any pending run.
func (t *RoundTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.paused = false
	t.arm(d)
}

// Restart is the bid-extension path: it atomically replaces the pending
// expiry with a fresh countdown of d.
func (t *RoundTimer) Restart(d time.Duration) {
	t.Start(d)
}

// Pause freezes the remaining duration. A paused timer never fires.
func (t *RoundTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.paused {
		return
	}
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.remaining = t.deadline.Sub(t.clock.Now())
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.paused = true
}

// Resume continues a paused countdown from the frozen remaining duration,
// not from a fresh one.
func (t *RoundTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || !t.paused {
		return
	}
	t.paused = false
	t.arm(t.remaining)
}

// Cancel stops the countdown. A cancelled run never fires.
func (t *RoundTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.running = false
	t.paused = false
}

// Remaining returns the time left on the countdown, zero if idle.
func (t *RoundTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.running && t.paused:
		return t.remaining
	case t.running:
		d := t.deadline.Sub(t.clock.Now())
		if d < 0 {
			d = 0
		}
		return d
	default:
		return 0
	}
}

// Running reports whether a countdown is armed (paused counts as running).
func (t *RoundTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Paused reports whether the countdown is frozen.
func (t *RoundTimer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running && t.paused
}

// arm replaces the underlying clock timer. Caller holds t.mu.
func (t *RoundTimer) arm(d time.Duration) {
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.deadline = t.clock.Now().Add(d)
	t.timer = t.clock.AfterFunc(d, func() {
		t.fire(gen)
	})
}

func (t *RoundTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running || t.paused {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.timer = nil
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire()
	}
}
