package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 16 << 20

// recordedEvent is one line of a replay file.
type recordedEvent struct {
	Line      int
	Timestamp string
	Event     json.RawMessage
}

// readEvents parses a JSONL capture file. A line is either a bare event
// object, or an envelope {"timestamp": "...", "event": {...}} whose only keys
// are event and timestamp. Blank lines are skipped.
func readEvents(r io.Reader) ([]recordedEvent, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []recordedEvent
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		ev := recordedEvent{Line: line, Event: append(json.RawMessage(nil), raw...)}

		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) == nil && isEnvelope(fields) {
			ev.Event = fields["event"]
			if ts, ok := fields["timestamp"]; ok {
				if err := json.Unmarshal(ts, &ev.Timestamp); err != nil {
					return nil, fmt.Errorf("line %d: timestamp must be a string", line)
				}
			}
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func isEnvelope(fields map[string]json.RawMessage) bool {
	if _, ok := fields["event"]; !ok {
		return false
	}
	for k := range fields {
		if k != "event" && k != "timestamp" {
			return false
		}
	}
	return true
}
