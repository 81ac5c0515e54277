// Package plugin runs local executables as an actuation backend. A plugin
// lives in its own directory with a plugin.json manifest, reads one JSON
// Request on stdin and writes one JSON Response on stdout.
package plugin

// Manifest describes a plugin's metadata and the service domains it handles.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Domains     []string `json:"domains,omitempty"`
}

// Handles reports whether the plugin accepts calls for domain. A manifest
// without domains accepts every domain.
func (m Manifest) Handles(domain string) bool {
	if len(m.Domains) == 0 {
		return true
	}
	for _, d := range m.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Request is sent to a plugin for one service call.
type Request struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// Response is what a plugin writes back.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Plugin is a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
