// Package pingtimer implements the ping deadman switch: a timer that
// fires if the device manager event loop goes too long without a client
// Ping.
package pingtimer

import (
	"sync"
	"time"
)

// Timer fires its timeout channel when more than maxInterval elapses
// since the last call to Pinged. A zero maxInterval disables the timer
// entirely — its timeout channel is never signaled.
//
// Thread Safety: Pinged and TimeoutC are safe for concurrent use.
type Timer struct {
	maxInterval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	timeout chan struct{}
	once    sync.Once
}

// New constructs a Timer with the given bound. maxInterval of 0 disables
// the deadman switch.
func New(maxInterval time.Duration) *Timer {
	t := &Timer{
		maxInterval: maxInterval,
		timeout:     make(chan struct{}),
	}
	if maxInterval > 0 {
		t.timer = time.AfterFunc(maxInterval, t.fire)
	}
	return t
}

func (t *Timer) fire() {
	t.once.Do(func() { close(t.timeout) })
}

// Pinged resets the deadline. A no-op if the timer is disabled or has
// already fired.
func (t *Timer) Pinged() {
	if t.maxInterval <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Reset(t.maxInterval)
	}
}

// TimeoutC returns a channel that closes once more than maxInterval has
// elapsed since construction or the last Pinged call. A disabled timer
// (maxInterval == 0) returns a channel that never closes.
func (t *Timer) TimeoutC() <-chan struct{} {
	return t.timeout
}

// Stop releases the underlying OS timer. Safe to call multiple times.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}
