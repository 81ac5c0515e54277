// Package main is an actuator plugin that handles media_player services on
// the local macOS machine via AppleScript. The entity id is ignored; the
// system output device and frontmost media session are the only targets.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// Request is the service call sent by the plugin actuator.
type Request struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// Response is written to stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type serviceHandler func(data map[string]any) error

// handlers maps media_player services to their implementation.
var handlers = map[string]serviceHandler{
	"volume_up":            volumeUp,
	"volume_down":          volumeDown,
	"volume_mute":          volumeMute,
	"volume_set":           volumeSet,
	"media_play_pause":     keyCode(100),
	"media_next_track":     keyCode(101),
	"media_previous_track": keyCode(98),
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	if req.Domain != "media_player" {
		writeResponse(Response{Error: fmt.Sprintf("unsupported domain: %s", req.Domain)})
		return
	}

	handler, ok := handlers[req.Service]
	if !ok {
		writeResponse(Response{Error: fmt.Sprintf("unknown service: %s", req.Service)})
		return
	}

	if err := handler(req.Data); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("%s failed: %v", req.Service, err)})
		return
	}

	writeResponse(Response{
		Success: true,
		Message: fmt.Sprintf("%s - %s executed successfully", req.EntityID, req.Service),
	})
}

func writeResponse(resp Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}

// runAppleScript executes an AppleScript command and returns any error.
func runAppleScript(script string) error {
	cmd := exec.Command("osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func volumeUp(map[string]any) error {
	return runAppleScript(`set volume output volume ((output volume of (get volume settings)) + 10)`)
}

func volumeDown(map[string]any) error {
	return runAppleScript(`set volume output volume ((output volume of (get volume settings)) - 10)`)
}

func volumeMute(map[string]any) error {
	return runAppleScript(`set volume output muted (not (output muted of (get volume settings)))`)
}

// volumeSet takes Home Assistant's volume_level in [0,1].
func volumeSet(data map[string]any) error {
	level, ok := data["volume_level"].(float64)
	if !ok {
		return fmt.Errorf("volume_level must be a number")
	}
	if level < 0 || level > 1 {
		return fmt.Errorf("volume_level %v out of range [0,1]", level)
	}
	return runAppleScript(fmt.Sprintf(`set volume output volume %d`, int(level*100)))
}

// keyCode returns a handler that presses a System Events media key.
func keyCode(code int) serviceHandler {
	return func(map[string]any) error {
		return runAppleScript(fmt.Sprintf("tell application \"System Events\"\n\tkey code %d\nend tell", code))
	}
}
