// Package liveness tracks when the last status frame arrived and reports
// whether the link is still producing traffic.
package liveness

import (
	"context"
	"sync/atomic"
	"time"
)

// Window holds the time of the last received frame. It is written by the
// notification path and read by the monitor tick without locking.
type Window struct {
	last atomic.Int64 // unix nanoseconds, 0 = never
}

// Touch records t as the time of the last received frame.
func (w *Window) Touch(t time.Time) {
	w.last.Store(t.UnixNano())
}

// Last returns the time of the last received frame, zero if none.
func (w *Window) Last() time.Time {
	n := w.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Fresh reports whether a frame arrived within threshold of now.
func (w *Window) Fresh(now time.Time, threshold time.Duration) bool {
	last := w.Last()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= threshold
}

// Monitor periodically compares the window against a staleness threshold.
// It never touches session state.
type Monitor struct {
	window    *Window
	interval  time.Duration
	threshold time.Duration
	notify    func(fresh bool)
	now       func() time.Time
}

// NewMonitor returns a monitor that calls notify on every tick.
func NewMonitor(w *Window, interval, threshold time.Duration, notify func(fresh bool)) *Monitor {
	return &Monitor{
		window:    w,
		interval:  interval,
		threshold: threshold,
		notify:    notify,
		now:       time.Now,
	}
}

// Tick evaluates the window once and reports the result.
func (m *Monitor) Tick() bool {
	fresh := m.window.Fresh(m.now(), m.threshold)
	if m.notify != nil {
		m.notify(fresh)
	}
	return fresh
}

// Run ticks until ctx is done, whatever the session state.
func (m *Monitor) Run(ctx context.Context) {
	m.Tick()

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick()
		}
	}
}
