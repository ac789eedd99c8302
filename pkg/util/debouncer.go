package util

import (
	"sync"
	"time"
)

// Debouncer wraps a timer that fires only after Reset has not been called
// for the configured duration. The session layer uses it as a starvation
// watch: every emitted frame resets the timer, and the timer firing means
// the pipeline has produced nothing for a full window.
//
//	watch := util.NewDebouncer(2 * time.Second)
//	defer watch.Stop()
//
//	for {
//	    select {
//	    case frame := <-frames:
//	        deliver(frame)
//	        watch.Reset()
//	    case <-watch.C():
//	        reportStarvation()
//	        watch.Reset()
//	    }
//	}
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	stopped  bool
}

// NewDebouncer creates a debouncer that fires after duration of inactivity.
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		timer:    time.NewTimer(duration),
	}
}

// Reset restarts the inactivity window. No-op after Stop.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
	d.timer.Reset(d.duration)
}

// C returns the underlying timer channel.
func (d *Debouncer) C() <-chan time.Time {
	return d.timer.C
}

// Stop stops the debouncer; safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		d.timer.Stop()
		d.stopped = true
	}
}
