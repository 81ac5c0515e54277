package config

import (
	"fmt"
	"strings"
)

// KnownGestures are the labels produced by the MediaPipe gesture recognizer.
var KnownGestures = []string{
	"Closed_Fist", "Open_Palm", "Pointing_Up",
	"Thumb_Down", "Thumb_Up", "Victory", "ILoveYou",
}

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks f and returns ValidationErrors if anything is wrong.
func (f *File) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	switch f.Actuator.Type {
	case ActuatorHomeAssistant:
		if f.HomeAssistant.MCPURL == "" {
			add("homeassistant.mcp_url", "required")
		}
		if f.HomeAssistant.TokenEnvVar == "" {
			add("homeassistant.token_env_var", "required")
		}
		if f.HomeAssistant.TimeoutSeconds <= 0 {
			add("homeassistant.timeout_seconds", "must be positive")
		}
	case ActuatorPlugin:
		if f.Actuator.Plugin == "" {
			add("actuator.plugin", "required when actuator type is plugin")
		}
		if f.Actuator.TimeoutMs <= 0 {
			add("actuator.timeout_ms", "must be positive")
		}
	default:
		add("actuator.type", "unknown actuator %q", f.Actuator.Type)
	}

	r := f.Recognition
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		add("gesture_recognition.confidence_threshold", "%v must be between 0.0 and 1.0", r.ConfidenceThreshold)
	}
	if r.CooldownSeconds < 0 {
		add("gesture_recognition.cooldown_seconds", "must not be negative")
	}
	if r.MinHoldTime < 0 {
		add("gesture_recognition.min_hold_time", "must not be negative")
	}
	if r.HoldIdleTimeout < 0 {
		add("gesture_recognition.hold_idle_timeout", "must not be negative")
	}

	if f.Socket.Port < 0 || f.Socket.Port > 65535 {
		add("socket_communication.port", "%d out of range", f.Socket.Port)
	}

	for i, m := range f.Mappings {
		for _, ve := range m.validate() {
			add(fmt.Sprintf("gesture_mappings[%d].%s", i, ve.Field), "%s", ve.Reason)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (m Mapping) validate() ValidationErrors {
	var errs ValidationErrors
	if m.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Reason: "required"})
	}
	if m.Gesture == "" {
		errs = append(errs, ValidationError{Field: "gesture", Reason: "required"})
	}
	if m.Hand == "" {
		errs = append(errs, ValidationError{Field: "hand", Reason: "required"})
	} else if !m.Hand.Valid() {
		errs = append(errs, ValidationError{Field: "hand", Reason: fmt.Sprintf("invalid hand %q (want Left, Right or Either)", m.Hand)})
	}
	if m.Action.EntityID == "" || m.Action.Service == "" {
		errs = append(errs, ValidationError{Field: "action", Reason: "missing entity_id or service"})
	}
	return errs
}

// UnknownGestures returns the mapping gesture labels the recognizer is not
// known to produce. They are allowed but usually a typo.
func (f *File) UnknownGestures() []string {
	known := make(map[string]bool, len(KnownGestures))
	for _, g := range KnownGestures {
		known[g] = true
	}
	var unknown []string
	for _, m := range f.Mappings {
		if m.Gesture != "" && !known[m.Gesture] {
			unknown = append(unknown, m.Gesture)
		}
	}
	return unknown
}
