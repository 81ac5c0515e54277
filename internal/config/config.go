// Package config holds the gesture control configuration: the YAML file
// layout, its validation, and the immutable Snapshot the pipeline reads.
package config

import (
	"net"
	"strconv"
	"time"
)

// Defaults applied to any value the configuration file leaves out.
const (
	DefaultConfidenceThreshold = 0.8
	DefaultCooldownSeconds     = 2.0
	DefaultMinHoldTime         = 0.5
	DefaultHoldIdleTimeout     = 2.0
	DefaultSocketHost          = "localhost"
	DefaultSocketPort          = 5555
	DefaultWebAddr             = ":8080"
	DefaultTokenEnvVar         = "HA_TOKEN"
	DefaultHATimeoutSeconds    = 30.0
	DefaultPluginTimeoutMs     = 5000
)

// Actuator backends.
const (
	ActuatorHomeAssistant = "homeassistant"
	ActuatorPlugin        = "plugin"
)

// File is the parsed configuration file.
type File struct {
	HomeAssistant HomeAssistant `yaml:"homeassistant"`
	Recognition   Recognition   `yaml:"gesture_recognition"`
	Socket        Socket        `yaml:"socket_communication"`
	Web           Web           `yaml:"web"`
	History       History       `yaml:"history"`
	Actuator      Actuator      `yaml:"actuator"`
	Mappings      []Mapping     `yaml:"gesture_mappings"`
}

// HomeAssistant configures the Home Assistant actuation client.
type HomeAssistant struct {
	MCPURL         string  `yaml:"mcp_url"`
	TokenEnvVar    string  `yaml:"token_env_var"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Timeout returns the request timeout.
func (h HomeAssistant) Timeout() time.Duration {
	return seconds(h.TimeoutSeconds)
}

// Recognition holds the gating tunables.
type Recognition struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	CooldownSeconds     float64 `yaml:"cooldown_seconds"`
	MinHoldTime         float64 `yaml:"min_hold_time"`
	HoldIdleTimeout     float64 `yaml:"hold_idle_timeout"`
}

// Socket is the address the ingestion server listens on.
type Socket struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s Socket) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Web configures the HTTP control API.
type Web struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// History configures the action result store.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Actuator selects the backend that executes actions.
type Actuator struct {
	Type      string `yaml:"type"`
	PluginDir string `yaml:"plugin_dir"`
	Plugin    string `yaml:"plugin"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Default returns a File populated with default values and no mappings.
func Default() *File {
	return &File{
		HomeAssistant: HomeAssistant{
			TokenEnvVar:    DefaultTokenEnvVar,
			TimeoutSeconds: DefaultHATimeoutSeconds,
		},
		Recognition: Recognition{
			ConfidenceThreshold: DefaultConfidenceThreshold,
			CooldownSeconds:     DefaultCooldownSeconds,
			MinHoldTime:         DefaultMinHoldTime,
			HoldIdleTimeout:     DefaultHoldIdleTimeout,
		},
		Socket: Socket{
			Host: DefaultSocketHost,
			Port: DefaultSocketPort,
		},
		Web: Web{
			Addr: DefaultWebAddr,
		},
		History: History{
			Enabled: true,
		},
		Actuator: Actuator{
			Type:      ActuatorHomeAssistant,
			TimeoutMs: DefaultPluginTimeoutMs,
		},
	}
}

// Snapshot builds the immutable pipeline view of f. Mappings, including
// their action data, are copied so later edits of f are not visible through
// the snapshot.
//
// A non-zero hold idle window is never shorter than the cooldown: a gesture
// held through its cooldown must still count as one continuous hold when it
// is next allowed to trigger.
func (f *File) Snapshot() *Snapshot {
	cooldown := seconds(f.Recognition.CooldownSeconds)
	idle := seconds(f.Recognition.HoldIdleTimeout)
	if idle > 0 && idle < cooldown {
		idle = cooldown
	}
	return &Snapshot{
		ConfidenceThreshold: f.Recognition.ConfidenceThreshold,
		Cooldown:            cooldown,
		MinHoldTime:         seconds(f.Recognition.MinHoldTime),
		HoldIdleTimeout:     idle,
		mappings:            copyMappings(f.Mappings),
	}
}

// clone returns a copy of f whose mappings can be edited freely.
func (f *File) clone() *File {
	c := *f
	c.Mappings = copyMappings(f.Mappings)
	return &c
}

func copyMappings(src []Mapping) []Mapping {
	out := make([]Mapping, len(src))
	for i, m := range src {
		m.Action.Data = copyData(m.Action.Data)
		out[i] = m
	}
	return out
}

// copyData deep-copies nested maps and slices as decoded from YAML or JSON.
func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return copyData(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
