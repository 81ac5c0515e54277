// Package gesture defines gesture detection events and the per-gesture gates
// that decide whether a detection is allowed to trigger an action.
package gesture

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Hand identifies which hand produced a detection.
type Hand string

const (
	// HandLeft is a detection of the left hand.
	HandLeft Hand = "Left"
	// HandRight is a detection of the right hand.
	HandRight Hand = "Right"
	// HandUnknown is used when the producer did not report handedness.
	HandUnknown Hand = "Unknown"
)

// ParseHand converts a handedness label into a Hand. Matching is
// case-insensitive; anything other than left or right is HandUnknown.
func ParseHand(s string) Hand {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return HandLeft
	case "right":
		return HandRight
	default:
		return HandUnknown
	}
}

// UnmarshalJSON accepts any string and normalizes it with ParseHand.
func (h *Hand) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*h = HandUnknown
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hand must be a string: %w", err)
	}
	*h = ParseHand(s)
	return nil
}

// Event is a single gesture detection produced by the vision process.
type Event struct {
	Timestamp  int64   `json:"timestamp"`
	Hand       Hand    `json:"hand"`
	Gesture    string  `json:"gesture"`
	Confidence float64 `json:"confidence"`
}

// Key returns the identity used to index per-gesture gate state.
func (e Event) Key() Key {
	return Key{Gesture: e.Gesture, Hand: e.Hand}
}

// Time returns the producer timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Key identifies a stream of detections of one gesture on one hand.
type Key struct {
	Gesture string
	Hand    Hand
}

// String renders the key as "gesture|hand".
func (k Key) String() string {
	return k.Gesture + "|" + string(k.Hand)
}

// Decode parses one JSON-encoded event. The hand field is normalized and a
// missing hand becomes HandUnknown. A confidence outside [0, 1] is rejected.
func Decode(line []byte) (Event, error) {
	ev := Event{Hand: HandUnknown}
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("decode gesture event: %w", err)
	}
	if ev.Gesture == "" {
		return Event{}, fmt.Errorf("decode gesture event: missing gesture")
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		return Event{}, fmt.Errorf("decode gesture event: confidence %v outside [0, 1]", ev.Confidence)
	}
	return ev, nil
}
