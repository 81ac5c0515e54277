package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/ayusman/hasta/internal/gesture"
)

// MappingHand is the hand a mapping applies to.
type MappingHand string

const (
	// MappingLeft matches left-hand detections only.
	MappingLeft MappingHand = "Left"
	// MappingRight matches right-hand detections only.
	MappingRight MappingHand = "Right"
	// MappingEither matches detections of any hand.
	MappingEither MappingHand = "Either"
)

// Valid reports whether h is one of Left, Right or Either.
func (h MappingHand) Valid() bool {
	switch h {
	case MappingLeft, MappingRight, MappingEither:
		return true
	}
	return false
}

// Matches reports whether a detection of hand satisfies h.
func (h MappingHand) Matches(hand gesture.Hand) bool {
	return h == MappingEither || string(h) == string(hand)
}

// Action is the device action a mapping triggers.
type Action struct {
	EntityID string         `yaml:"entity_id" json:"entity_id"`
	Service  string         `yaml:"service" json:"service"`
	Data     map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
}

// Domain returns the part of EntityID before its first dot.
func (a Action) Domain() string {
	domain, _, _ := strings.Cut(a.EntityID, ".")
	return domain
}

// Mapping binds a gesture on a hand to an action.
type Mapping struct {
	Name    string      `yaml:"name" json:"name"`
	Gesture string      `yaml:"gesture" json:"gesture"`
	Hand    MappingHand `yaml:"hand" json:"hand"`
	Action  Action      `yaml:"action" json:"action"`
}

// Snapshot is an immutable view of the configuration used for one pipeline
// pass. It is never modified after construction; reloads publish a new one.
type Snapshot struct {
	ConfidenceThreshold float64
	Cooldown            time.Duration
	MinHoldTime         time.Duration
	HoldIdleTimeout     time.Duration

	mappings []Mapping
}

// Mappings returns a deep copy of the ordered mapping list.
func (s *Snapshot) Mappings() []Mapping {
	return copyMappings(s.mappings)
}

// Len returns the number of mappings.
func (s *Snapshot) Len() int {
	return len(s.mappings)
}

// Resolve returns the first mapping, in declared order, for gestureName
// whose hand matches hand. The returned action data is a private copy.
func (s *Snapshot) Resolve(gestureName string, hand gesture.Hand) (Mapping, bool) {
	for _, m := range s.mappings {
		if m.Gesture != gestureName {
			continue
		}
		if m.Hand.Matches(hand) {
			m.Action.Data = copyData(m.Action.Data)
			return m, true
		}
	}
	return Mapping{}, false
}

// Holder publishes the current Snapshot. Readers always observe a complete
// snapshot, either the previous or the new one.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder creates a Holder publishing s.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.Store(s)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Store publishes s, replacing the current snapshot.
func (h *Holder) Store(s *Snapshot) {
	h.current.Store(s)
}
