package call

import (
	"sync"
	"time"
)

// IdleTimer runs fire once after delay unless rescheduled or cancelled
// first. At most one firing is pending at a time. Each schedule gets a
// generation number, and a timer whose generation is stale by the time it
// runs does nothing, so a Cancel that races with expiry still wins.
type IdleTimer struct {
	fire func()

	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewIdleTimer returns an idle timer. Nothing is scheduled yet.
func NewIdleTimer(delay time.Duration, fire func()) *IdleTimer {
	return &IdleTimer{delay: delay, fire: fire}
}

// Schedule (re)arms the timer, replacing any pending firing. It is a no-op
// after Stop or when the delay is not positive.
func (t *IdleTimer) Schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	if t.stopped || t.delay <= 0 {
		return
	}
	gen := t.gen
	t.timer = time.AfterFunc(t.delay, func() { t.expire(gen) })
}

// Cancel disarms a pending firing.
func (t *IdleTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Stop cancels and prevents any future Schedule from arming.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.stopped = true
}

// Pending reports whether a firing is armed.
func (t *IdleTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *IdleTimer) cancelLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *IdleTimer) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.stopped {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.fire()
}
