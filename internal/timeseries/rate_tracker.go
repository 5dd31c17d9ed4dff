// Package timeseries tracks event rates over rolling time windows.
//
// The batch uses it for client iterations per second: every finished client
// invocation is one event, and the dashboard samples the tracker whenever it
// takes a snapshot.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

// ringSize bounds the retained samples. At the dashboard's 500ms polling
// interval this covers the longest window.
const ringSize = 240

// Rolling windows reported by Rates.
const (
	ShortWindow = 10 * time.Second
	LongWindow  = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type sample struct {
	at    time.Time
	count int64
}

// RateTracker counts events and computes rolling per-second rates.
//
// Usage:
//
//	tracker := NewRateTracker()
//	tracker.Add(1)          // per event, lock-free
//	tracker.Sample()        // periodically
//	rates := tracker.Rates()
type RateTracker struct {
	total atomic.Int64

	mu      sync.RWMutex
	samples []sample
	next    int // overwrite position once the ring is full
	start   time.Time

	clock Clock
}

// Rates is a point-in-time view of a RateTracker.
type Rates struct {
	Total   int64
	Short   float64 // events/sec over ShortWindow
	Long    float64 // events/sec over LongWindow
	Overall float64 // events/sec since start or the last Reset
}

// NewRateTracker creates a tracker on the wall clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker on a custom clock.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	t := &RateTracker{
		samples: make([]sample, 0, ringSize),
		clock:   clock,
	}
	t.restart(clock.Now())
	return t
}

// Add counts n events. Non-positive n is ignored.
func (t *RateTracker) Add(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// Sample records the current total.
func (t *RateTracker) Sample() {
	s := sample{at: t.clock.Now(), count: t.total.Load()}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < ringSize {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.next] = s
	t.next = (t.next + 1) % ringSize
}

// Rates computes the current rates. With less history than a window the
// oldest sample is used, so rates are available immediately.
func (t *RateTracker) Rates() Rates {
	now := t.clock.Now()
	total := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	r := Rates{Total: total}
	if elapsed := now.Sub(t.start).Seconds(); elapsed > 0 {
		r.Overall = float64(total) / elapsed
	}
	r.Short = t.rateOver(now, total, ShortWindow)
	r.Long = t.rateOver(now, total, LongWindow)
	return r
}

// rateOver must be called with mu held.
func (t *RateTracker) rateOver(now time.Time, total int64, window time.Duration) float64 {
	cutoff := now.Add(-window)

	// The newest sample at or before the cutoff anchors the window.
	var anchor *sample
	for i := range t.samples {
		s := &t.samples[i]
		if s.at.After(cutoff) {
			continue
		}
		if anchor == nil || s.at.After(anchor.at) {
			anchor = s
		}
	}
	if anchor == nil {
		anchor = t.oldest()
	}
	if anchor == nil {
		return 0
	}

	secs := now.Sub(anchor.at).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(total-anchor.count) / secs
}

// oldest must be called with mu held.
func (t *RateTracker) oldest() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringSize {
		return &t.samples[0]
	}
	return &t.samples[t.next]
}

// Reset clears all history.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Store(0)
	t.restart(now)
}

func (t *RateTracker) restart(now time.Time) {
	t.samples = append(t.samples[:0], sample{at: now})
	t.next = 0
	t.start = now
}

// SampleCount returns the number of retained samples.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
