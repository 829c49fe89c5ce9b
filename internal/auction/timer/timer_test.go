package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func newTestTimer(t *testing.T) (*RoundTimer, *clockwork.FakeClock, chan struct{}) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 8)
	rt := New(clock, func() { fired <- struct{}{} })
	return rt, clock, fired
}

func TestExpiresExactlyOnce(t *testing.T) {
	rt, clock, fired := newTestTimer(t)

	rt.Start(10 * time.Second)
	check.True(t, rt.Running())

	clock.Advance(10 * time.Second)
	<-fired
	check.False(t, rt.Running())

	// Time keeps moving; the finished run must not fire again.
	clock.Advance(time.Hour)
	rt.Start(time.Second)
	clock.Advance(time.Second)
	<-fired
	check.Equal(t, 0, len(fired))
}

func TestRestartCancelsPendingExpiry(t *testing.T) {
	rt, clock, fired := newTestTimer(t)

	rt.Start(10 * time.Second)
	clock.Advance(5 * time.Second)
	rt.Restart(10 * time.Second)

	// Crossing the original deadline must not fire.
	clock.Advance(5 * time.Second)
	check.True(t, rt.Running())

	clock.Advance(5 * time.Second)
	<-fired
	check.Equal(t, 0, len(fired))
}

func TestPauseFreezesRemaining(t *testing.T) {
	rt, clock, fired := newTestTimer(t)

	rt.Start(10 * time.Second)
	clock.Advance(4 * time.Second)
	rt.Pause()
	check.True(t, rt.Paused())
	check.Equal(t, 6*time.Second, rt.Remaining())

	// A paused timer never fires, no matter how long it sits.
	clock.Advance(time.Hour)
	check.Equal(t, 6*time.Second, rt.Remaining())

	// Resume continues from the frozen value, not a fresh duration.
	rt.Resume()
	clock.Advance(5 * time.Second)
	check.True(t, rt.Running())
	clock.Advance(time.Second)
	<-fired
	check.Equal(t, 0, len(fired))
}

func TestCancelPreventsFire(t *testing.T) {
	rt, clock, fired := newTestTimer(t)

	rt.Start(10 * time.Second)
	rt.Cancel()
	check.False(t, rt.Running())
	check.Equal(t, time.Duration(0), rt.Remaining())

	clock.Advance(time.Hour)

	// Arm a sentinel run; only it may fire.
	rt.Start(time.Second)
	clock.Advance(time.Second)
	<-fired
	check.Equal(t, 0, len(fired))
}

func TestRemainingCountsDown(t *testing.T) {
	rt, clock, _ := newTestTimer(t)

	rt.Start(30 * time.Second)
	assert.Equal(t, 30*time.Second, rt.Remaining())

	clock.Advance(12 * time.Second)
	assert.Equal(t, 18*time.Second, rt.Remaining())
}

func TestResumeWithoutPauseIsNoop(t *testing.T) {
	rt, clock, fired := newTestTimer(t)

	rt.Resume() // idle: nothing to do
	check.False(t, rt.Running())

	rt.Start(5 * time.Second)
	rt.Resume() // running, not paused: nothing to do
	clock.Advance(5 * time.Second)
	<-fired
	check.Equal(t, 0, len(fired))
}
