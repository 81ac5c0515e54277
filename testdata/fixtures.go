// Package testdata holds recorded event streams from the vision process.
package testdata

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ayusman/hasta/internal/gesture"
)

//go:embed streams/*
var streamsFS embed.FS

// LoadStream returns the raw bytes of a recorded stream, exactly as the
// producer wrote them to the socket.
func LoadStream(name string) ([]byte, error) {
	data, err := streamsFS.ReadFile("streams/" + name)
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", name, err)
	}
	return data, nil
}

// LoadEvents decodes every valid, newline-terminated event in a stream.
// Lines the ingestion server would reject, and a trailing partial line,
// are skipped.
func LoadEvents(name string) ([]gesture.Event, error) {
	data, err := LoadStream(name)
	if err != nil {
		return nil, err
	}

	lines := bytes.Split(data, []byte("\n"))
	// The last element is empty for a terminated stream and a partial
	// line otherwise.
	lines = lines[:len(lines)-1]

	var events []gesture.Event
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		ev, err := gesture.Decode(line)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
