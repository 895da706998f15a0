package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/plughost/internal/ir"
)

// timeLayout is how session timestamps are stored. It is fixed width so
// the text sorts in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalSaveState converts a save state to JSON TEXT.
// HTML escaping is disabled so stored text matches what the engine logs.
func marshalSaveState(s ir.PluginSaveState) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("marshal save state: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalSaveState parses JSON TEXT written by marshalSaveState.
func unmarshalSaveState(data string) (ir.PluginSaveState, error) {
	var s ir.PluginSaveState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return ir.PluginSaveState{}, fmt.Errorf("unmarshal save state: %w", err)
	}
	return s, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
