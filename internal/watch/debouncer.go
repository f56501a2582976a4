package watch

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid events into a single callback invocation.
// Only the last event within the configured interval triggers the callback.
//
// With a max wait configured, the first event of a burst also starts a
// deadline; later events keep sliding the quiet window but never past the
// deadline, so a continuous stream of events still settles eventually.
type Debouncer struct {
	interval time.Duration
	maxWait  time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	callback func(path string)
	lastPath string
	deadline time.Time
}

// NewDebouncer creates a debouncer that waits for interval of quiet before
// firing callback with the path of the last event.
func NewDebouncer(interval time.Duration, callback func(path string)) *Debouncer {
	return NewDebouncerWithMaxWait(interval, 0, callback)
}

// NewDebouncerWithMaxWait creates a debouncer whose callback fires at the
// latest maxWait after the first event of a burst. A zero maxWait disables
// the cap.
func NewDebouncerWithMaxWait(interval, maxWait time.Duration, callback func(path string)) *Debouncer {
	return &Debouncer{
		interval: interval,
		maxWait:  maxWait,
		callback: callback,
	}
}

// Trigger records an event for the given path. If no further events arrive
// within the debounce interval, the callback fires with the last path seen.
func (d *Debouncer) Trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastPath = path

	wait := d.interval

	if d.maxWait > 0 {
		now := time.Now()

		if d.deadline.IsZero() {
			d.deadline = now.Add(d.maxWait)
		}

		if remaining := d.deadline.Sub(now); remaining < wait {
			wait = remaining
			if wait < 0 {
				wait = 0
			}
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(wait, d.fire)
}

// fire invokes the callback with the last path seen and clears burst state.
func (d *Debouncer) fire() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("debouncer callback panicked", slog.Any("error", r))
		}
	}()

	d.mu.Lock()
	p := d.lastPath
	d.deadline = time.Time{}
	d.mu.Unlock()

	d.callback(p)
}

// Stop cancels any pending debounced callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.deadline = time.Time{}
}
