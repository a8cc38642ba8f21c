package game

import (
	"sync/atomic"
	"testing"
	"time"
)

func startCountingTimer(t *testing.T, interval time.Duration) (*RollTimer, *atomic.Int64) {
	t.Helper()
	var fires atomic.Int64
	timer := NewRollTimer(interval, func() { fires.Add(1) }, nil)
	t.Cleanup(timer.Stop)
	timer.Start()
	return timer, &fires
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestRollTimerFiresPeriodically(t *testing.T) {
	_, fires := startCountingTimer(t, 30*time.Millisecond)
	if !waitFor(t, time.Second, func() bool { return fires.Load() >= 3 }) {
		t.Fatalf("timer fired %d times, want >= 3", fires.Load())
	}
}

func TestRollTimerNotifiesBeforeFiring(t *testing.T) {
	var notified atomic.Int64
	var fires atomic.Int64
	timer := NewRollTimer(25*time.Millisecond, func() { fires.Add(1) }, func(d time.Duration) {
		if d != 25*time.Millisecond {
			t.Errorf("notified interval %s", d)
		}
		notified.Add(1)
	})
	t.Cleanup(timer.Stop)
	timer.Start()
	if !waitFor(t, time.Second, func() bool { return fires.Load() >= 1 }) {
		t.Fatalf("never fired")
	}
	if notified.Load() < 1 {
		t.Fatalf("fired without notifying")
	}
}

// A paused timer holds its fire until Restart, which fires exactly once,
// immediately, with no backlog for the cycles that never happened.
func TestRollTimerPauseThenRestart(t *testing.T) {
	timer, fires := startCountingTimer(t, 40*time.Millisecond)
	timer.Pause()

	time.Sleep(200 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("paused timer fired %d times", n)
	}

	timer.Restart()
	if !waitFor(t, 30*time.Millisecond, func() bool { return fires.Load() >= 1 }) {
		t.Fatalf("restart did not fire immediately: %d", fires.Load())
	}
	// No makeup fires for the paused cycles.
	if n := fires.Load(); n > 1 {
		t.Fatalf("restart produced backlog: %d fires", n)
	}
	// The normal period resumes.
	if !waitFor(t, time.Second, func() bool { return fires.Load() >= 2 }) {
		t.Fatalf("period did not resume: %d", fires.Load())
	}
}

// Pausing and restarting before the countdown expires behaves as if the
// pause never happened.
func TestRollTimerPauseRestartBeforeExpiry(t *testing.T) {
	timer, fires := startCountingTimer(t, 60*time.Millisecond)
	timer.Pause()
	timer.Restart()
	if !waitFor(t, time.Second, func() bool { return fires.Load() >= 1 }) {
		t.Fatalf("timer never fired after pause+restart")
	}
}

func TestRollTimerRestartWhileRunningIsNoOp(t *testing.T) {
	timer, fires := startCountingTimer(t, 50*time.Millisecond)
	timer.Restart()
	time.Sleep(20 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("restart of a running timer fired the action: %d", n)
	}
}

func TestRollTimerStopWinsOverRestart(t *testing.T) {
	timer, fires := startCountingTimer(t, 30*time.Millisecond)
	timer.Pause()
	// Let the sleep expire so the loop is blocked in the paused wait.
	time.Sleep(100 * time.Millisecond)

	timer.Stop()
	timer.Restart()
	time.Sleep(100 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("stopped timer fired %d times", n)
	}
}

func TestRollTimerStopDuringSleep(t *testing.T) {
	timer, fires := startCountingTimer(t, time.Hour)
	time.Sleep(20 * time.Millisecond)
	timer.Stop()
	time.Sleep(20 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("timer fired during stop: %d", n)
	}
}
