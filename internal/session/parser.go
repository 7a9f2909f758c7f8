package session

import (
	"encoding/json"
	"strings"
)

// DecodeLine turns raw stdout bytes into a trimmed string, replacing
// invalid UTF-8 sequences instead of failing.
func DecodeLine(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
}

// ParseLine converts one line of `claude --output-format stream-json` output
// into an Event. It never fails: a line that is not JSON at all is passed
// through as text, and JSON of an unknown shape is ignored.
func ParseLine(line string) Event {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		if json.Valid([]byte(line)) {
			return Event{Kind: EventIgnored}
		}
		return Event{Kind: EventText, Text: line + "\n"}
	}

	recordType, _ := stringField(fields, "type")
	switch recordType {
	case recordSystem:
		if id, ok := stringField(fields, "session_id"); ok && id != "" {
			return Event{Kind: EventSessionInit, SessionID: id, HasSessionID: true}
		}
		return Event{Kind: EventIgnored}

	case recordAssistant:
		return parseAssistant(fields["message"])

	case recordResult:
		ev := Event{Kind: EventIgnored}
		if id, ok := stringField(fields, "session_id"); ok {
			ev.SessionID = id
			ev.HasSessionID = true
		}
		if result, ok := stringField(fields, "result"); ok && result != "" {
			ev.Kind = EventText
			ev.Text = result
		}
		return ev
	}

	return Event{Kind: EventIgnored}
}

func parseAssistant(raw json.RawMessage) Event {
	if len(raw) == 0 {
		return Event{Kind: EventIgnored}
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		if plain == "" {
			return Event{Kind: EventIgnored}
		}
		return Event{Kind: EventText, Text: plain}
	}

	var msg struct {
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{Kind: EventIgnored}
	}

	var text strings.Builder
	var tools []string
	for _, item := range msg.Content {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			text.WriteString(s)
			continue
		}

		var block contentBlock
		if err := json.Unmarshal(item, &block); err != nil {
			continue
		}
		switch block.Type {
		case blockText:
			text.WriteString(block.Text)
		case blockToolUse:
			name := block.Name
			if name == "" {
				name = defaultToolName
			}
			tools = append(tools, name)
		}
	}

	switch {
	case text.Len() > 0:
		return Event{Kind: EventText, Text: text.String(), Tools: tools}
	case len(tools) > 0:
		return Event{Kind: EventToolUse, Tools: tools}
	default:
		return Event{Kind: EventIgnored}
	}
}

// stringField reports the value of a JSON string field. ok is false when the
// field is missing or holds another JSON type.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, present := fields[key]
	if !present {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
