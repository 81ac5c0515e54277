package gesture

import (
	"sync"
	"time"
)

// DefaultHoldIdleTimeout is how long a key may go unseen before its hold
// timer is discarded.
const DefaultHoldIdleTimeout = 2 * time.Second

type holdState struct {
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// HoldGate tracks how long each gesture key has been continuously observed.
//
// The first observation of a key always fails the gate: it only starts the
// timer. A key that has not been observed for longer than the idle timeout
// is treated as a fresh occurrence, so an interrupted gesture never inherits
// a stale start time.
type HoldGate struct {
	mu          sync.Mutex
	states      map[Key]*holdState
	idleTimeout time.Duration
}

// NewHoldGate creates a HoldGate. An idleTimeout of zero disables expiry.
func NewHoldGate(idleTimeout time.Duration) *HoldGate {
	return &HoldGate{
		states:      make(map[Key]*holdState),
		idleTimeout: idleTimeout,
	}
}

// Update records an observation of key at now and reports whether the key
// has been held for at least minHold.
func (g *HoldGate) Update(key Key, now time.Time, minHold time.Duration) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[key]
	if ok && g.idleTimeout > 0 && now.Sub(st.lastSeenAt) > g.idleTimeout {
		ok = false
	}
	if !ok {
		g.states[key] = &holdState{firstSeenAt: now, lastSeenAt: now}
		return false, 0
	}

	heldFor := now.Sub(st.firstSeenAt)
	if now.After(st.lastSeenAt) {
		st.lastSeenAt = now
	}
	return heldFor >= minHold, heldFor
}

// HeldFor returns how long key has been held as of now, or false if the key
// has no live hold state.
func (g *HoldGate) HeldFor(key Key, now time.Time) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[key]
	if !ok {
		return 0, false
	}
	if g.idleTimeout > 0 && now.Sub(st.lastSeenAt) > g.idleTimeout {
		return 0, false
	}
	return now.Sub(st.firstSeenAt), true
}

// Clear discards the hold state for key. Call it when the producer reports
// that the gesture is no longer present.
func (g *HoldGate) Clear(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, key)
}

// Reset discards all hold state.
func (g *HoldGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states = make(map[Key]*holdState)
}

// SetIdleTimeout changes the idle expiry window.
func (g *HoldGate) SetIdleTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idleTimeout = d
}

// Len returns the number of tracked keys, including expired ones not yet
// revisited.
func (g *HoldGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.states)
}
