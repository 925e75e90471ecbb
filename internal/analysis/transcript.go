package analysis

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Transcripts arrive as a plain string, a list of turns, or an object wrapping a list of turns.
// NormalizeTranscript flattens all of them into "speaker: text" lines.
func NormalizeTranscript(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	case '[':
		var turns []map[string]any
		if err := json.Unmarshal(raw, &turns); err == nil {
			return joinTurns(turns)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			for _, key := range []string{"messages", "turns", "transcript"} {
				inner, ok := obj[key]
				if !ok {
					continue
				}
				var turns []map[string]any
				if err := json.Unmarshal(inner, &turns); err == nil {
					return joinTurns(turns)
				}
			}
		}
	}
	return string(raw)
}

func joinTurns(turns []map[string]any) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := firstString(t, "role", "speaker")
		text := firstString(t, "message", "content", "text")
		if text == "" {
			continue
		}
		if speaker == "" {
			speaker = "unknown"
		}
		lines = append(lines, speaker+": "+text)
	}
	return strings.Join(lines, "\n")
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
