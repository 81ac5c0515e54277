// Package stats counts gesture events as they pass through the pipeline.
package stats

import "sync/atomic"

// Counters is a point-in-time copy of the aggregator.
type Counters struct {
	Received       uint64  `json:"gestures_received"`
	BelowThreshold uint64  `json:"gestures_below_threshold"`
	Debounced      uint64  `json:"gestures_debounced"`
	Triggered      uint64  `json:"actions_triggered"`
	Succeeded      uint64  `json:"actions_succeeded"`
	Failed         uint64  `json:"actions_failed"`
	DebounceRate   float64 `json:"debounce_rate"`
}

// Aggregator holds monotonically increasing pipeline counters. All methods
// are safe for concurrent use.
type Aggregator struct {
	received       atomic.Uint64
	belowThreshold atomic.Uint64
	debounced      atomic.Uint64
	triggered      atomic.Uint64
	succeeded      atomic.Uint64
	failed         atomic.Uint64
}

// New creates an Aggregator with all counters at zero.
func New() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) IncReceived()       { a.received.Add(1) }
func (a *Aggregator) IncBelowThreshold() { a.belowThreshold.Add(1) }
func (a *Aggregator) IncDebounced()      { a.debounced.Add(1) }
func (a *Aggregator) IncTriggered()      { a.triggered.Add(1) }

// RecordResult counts a finished dispatch as succeeded or failed.
func (a *Aggregator) RecordResult(success bool) {
	if success {
		a.succeeded.Add(1)
	} else {
		a.failed.Add(1)
	}
}

// Snapshot returns the current counter values. DebounceRate is the
// percentage of gestures reaching the debounce gate that were suppressed.
func (a *Aggregator) Snapshot() Counters {
	c := Counters{
		Received:       a.received.Load(),
		BelowThreshold: a.belowThreshold.Load(),
		Debounced:      a.debounced.Load(),
		Triggered:      a.triggered.Load(),
		Succeeded:      a.succeeded.Load(),
		Failed:         a.failed.Load(),
	}
	if gated := c.Debounced + c.Triggered; gated > 0 {
		c.DebounceRate = float64(c.Debounced) / float64(gated) * 100
	}
	return c
}

// Reset sets every counter back to zero.
func (a *Aggregator) Reset() {
	a.received.Store(0)
	a.belowThreshold.Store(0)
	a.debounced.Store(0)
	a.triggered.Store(0)
	a.succeeded.Store(0)
	a.failed.Store(0)
}
