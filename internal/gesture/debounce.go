package gesture

import (
	"sync"
	"time"
)

// Debouncer enforces a minimum interval between two accepted triggers of the
// same gesture key. State only changes when a trigger is accepted.
type Debouncer struct {
	mu          sync.Mutex
	lastTrigger map[Key]time.Time
}

// NewDebouncer creates an empty Debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{
		lastTrigger: make(map[Key]time.Time),
	}
}

// ShouldTrigger reports whether key may trigger at now. When it returns true
// the trigger time is recorded; when it returns false nothing changes.
func (d *Debouncer) ShouldTrigger(key Key, now time.Time, cooldown time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastTrigger[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	d.lastTrigger[key] = now
	return true
}

// SinceLastTrigger returns the time elapsed since key last triggered, or
// false if it never has.
func (d *Debouncer) SinceLastTrigger(key Key, now time.Time) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.lastTrigger[key]
	if !ok {
		return 0, false
	}
	return now.Sub(last), true
}

// RemainingCooldown returns how long key must wait before it can trigger
// again. Zero means the key is ready.
func (d *Debouncer) RemainingCooldown(key Key, now time.Time, cooldown time.Duration) time.Duration {
	since, ok := d.SinceLastTrigger(key, now)
	if !ok || since >= cooldown {
		return 0
	}
	return cooldown - since
}

// ActiveCooldowns returns the remaining cooldown of every key still inside
// its window, indexed by Key.String().
func (d *Debouncer) ActiveCooldowns(now time.Time, cooldown time.Duration) map[string]time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	active := make(map[string]time.Duration)
	for key, last := range d.lastTrigger {
		if remaining := cooldown - now.Sub(last); remaining > 0 {
			active[key.String()] = remaining
		}
	}
	return active
}

// ResetKey forgets the last trigger of key.
func (d *Debouncer) ResetKey(key Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastTrigger, key)
}

// Reset forgets all trigger history.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastTrigger = make(map[Key]time.Time)
}
