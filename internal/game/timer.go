package game

import (
	"sync"
	"time"
)

// RollTimer schedules the periodic market action. Each cycle it announces
// the countdown to the notify callback, sleeps for the interval, then fires
// the action once, unless paused.
//
// Pause defers the firing at the end of the current sleep: the timer blocks
// until Restart, which fires the action immediately and resumes the normal
// period from that point, with no backlog of missed fires. Pausing and
// restarting before the sleep expires behaves as if nothing happened.
// Stop is permanent and wins any race with Restart.
type RollTimer struct {
	interval time.Duration
	action   func()
	notify   func(time.Duration)

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRollTimer(interval time.Duration, action func(), notify func(time.Duration)) *RollTimer {
	t := &RollTimer{
		interval: interval,
		action:   action,
		notify:   notify,
		stopCh:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Start launches the timer loop in its own goroutine.
func (t *RollTimer) Start() {
	go t.run()
}

func (t *RollTimer) run() {
	for {
		if t.isStopped() {
			return
		}
		if t.notify != nil {
			t.notify(t.interval)
		}
		select {
		case <-time.After(t.interval):
		case <-t.stopCh:
			return
		}

		t.mu.Lock()
		for t.paused && !t.stopped {
			t.cond.Wait()
		}
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			return
		}
		t.action()
	}
}

// Pause prevents the next firing; the loop will block after its current
// sleep until Restart or Stop.
func (t *RollTimer) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Restart releases a paused timer, firing the pending action immediately.
// No-op when not paused.
func (t *RollTimer) Restart() {
	t.mu.Lock()
	if t.paused {
		t.paused = false
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

// Stop ends the loop permanently. A racing Restart cannot revive a stopped
// timer; the stopped check runs after any paused wait.
func (t *RollTimer) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.cond.Broadcast()
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *RollTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
