// Package debounce delays suggestion fetches until typing settles.
package debounce

import (
	"context"
	"sync"
	"time"
)

// DefaultQuiet is the quiet period before a suggestion fetch.
const DefaultQuiet = 300 * time.Millisecond

// Func receives the settled value.
type Func func(ctx context.Context, value string)

type stopper interface {
	Stop() bool
}

// Debouncer calls fn once per burst of Trigger calls, with the last value,
// after Quiet has passed without another Trigger.
type Debouncer struct {
	quiet time.Duration
	fn    Func
	ctx   context.Context

	afterFunc func(d time.Duration, f func()) stopper

	mu      sync.Mutex
	pending stopper
	gen     uint64
	stopped bool
}

// New creates a Debouncer. quiet <= 0 uses DefaultQuiet.
func New(ctx context.Context, quiet time.Duration, fn Func) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Debouncer{
		quiet: quiet,
		fn:    fn,
		ctx:   ctx,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Quiet returns the configured quiet period.
func (d *Debouncer) Quiet() time.Duration {
	return d.quiet
}

// Trigger cancels any pending call and restarts the quiet period for value.
func (d *Debouncer) Trigger(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.cancelPendingLocked()
	gen := d.gen
	d.pending = d.afterFunc(d.quiet, func() { d.fire(gen, value) })
}

// Flush cancels any pending call and runs fn for value immediately.
func (d *Debouncer) Flush(value string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.cancelPendingLocked()
	d.mu.Unlock()
	d.fn(d.ctx, value)
}

// Cancel drops any pending call without stopping the Debouncer.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelPendingLocked()
}

// Stop cancels any pending call. Later Trigger and Flush calls do nothing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.cancelPendingLocked()
}

func (d *Debouncer) cancelPendingLocked() {
	d.gen++
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

// fire runs fn unless the timer was superseded after it started.
func (d *Debouncer) fire(gen uint64, value string) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.mu.Unlock()
	if d.ctx != nil && d.ctx.Err() != nil {
		return
	}
	d.fn(d.ctx, value)
}
