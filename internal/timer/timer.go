// Package timer runs periodic callbacks from a cooperative loop.
//
// Nothing in this package starts goroutines. A Registry only fires timers
// when Dispatch is called, which the node run loop does once per iteration.
// Callbacks therefore run on the loop goroutine and must not block.
package timer

import (
	"sync"
	"time"
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry holds the timers of one node.
type Registry struct {
	mu     sync.Mutex
	now    func() time.Time
	timers []*Timer
}

// Timer is a periodic callback owned by a Registry.
type Timer struct {
	reg      *Registry
	interval time.Duration
	next     time.Time
	fn       func()
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Every schedules fn to run each interval, the first time one interval from
// now. A non-positive interval fires on every Dispatch.
func (r *Registry) Every(interval time.Duration, fn func()) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Timer{reg: r, interval: interval, next: r.now().Add(interval), fn: fn}
	r.timers = append(r.timers, t)
	return t
}

// Stop removes the timer. Stopping twice is a no-op.
func (t *Timer) Stop() {
	r := t.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.timers {
		if other == t {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return
		}
	}
}

// Len returns the number of scheduled timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Dispatch fires every timer whose deadline has passed, at most once each.
// Deadlines advance by whole intervals from the previous deadline so a late
// dispatch does not shift the schedule; a timer more than one interval
// behind skips the missed ticks.
func (r *Registry) Dispatch() {
	r.mu.Lock()
	now := r.now()
	var due []func()
	for _, t := range r.timers {
		if now.Before(t.next) {
			continue
		}
		due = append(due, t.fn)
		t.next = t.next.Add(t.interval)
		if !now.Before(t.next) {
			t.next = now.Add(t.interval)
		}
	}
	r.mu.Unlock()

	// callbacks may add or stop timers
	for _, fn := range due {
		fn()
	}
}
