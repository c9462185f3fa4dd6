package core

import (
	"context"
	"sync"
	"time"
)

// InterviewTimer counts down the interview in whole seconds and calls
// onExpire once when it reaches zero.
type InterviewTimer struct {
	mu        sync.Mutex
	remaining int
	expired   bool
	onExpire  func()
}

// NewInterviewTimer creates a timer for total, rounded up to whole seconds.
func NewInterviewTimer(total time.Duration, onExpire func()) *InterviewTimer {
	secs := int((total + time.Second - 1) / time.Second)
	return &InterviewTimer{remaining: secs, onExpire: onExpire}
}

// Tick removes one second. It returns the seconds left.
func (t *InterviewTimer) Tick() int {
	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return 0
	}
	if t.remaining > 0 {
		t.remaining--
	}
	fire := t.remaining == 0
	if fire {
		t.expired = true
	}
	left := t.remaining
	t.mu.Unlock()

	if fire && t.onExpire != nil {
		t.onExpire()
	}
	return left
}

// Remaining returns the time left.
func (t *InterviewTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.remaining) * time.Second
}

// Expired reports whether the countdown reached zero.
func (t *InterviewTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Run ticks every interval until the timer expires or ctx is done.
func (t *InterviewTimer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.Tick() == 0 {
				return
			}
		}
	}
}
