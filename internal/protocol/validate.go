package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const defaultMimeType = "audio/webm"

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeAudio:  true,
	TypeSend:   true,
	TypeCancel: true,
	TypeReset:  true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error. Payload contents are
// checked by the handlers so they can answer with user-facing messages.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	switch msg.Type {
	case TypeAudio, TypeSend:
		if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
			flat, err := flatPayload(raw)
			if err != nil {
				return nil, err
			}
			msg.Payload = flat
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(msg.Payload, &fields); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
	}

	return &msg, nil
}

// flatPayload accepts the older message shape that puts payload fields next
// to "type" instead of under "payload".
func flatPayload(raw []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	delete(fields, "type")
	delete(fields, "payload")
	delete(fields, "timestamp")
	if len(fields) == 0 {
		return nil, fmt.Errorf("missing 'payload' field")
	}
	return json.Marshal(fields)
}

// DecodeAudio extracts an audio payload, defaulting the MIME type. The older
// mime_type spelling is accepted too.
func DecodeAudio(msg *Message) (AudioPayload, error) {
	var p struct {
		AudioPayload
		LegacyMimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return p.AudioPayload, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	if p.MimeType == "" {
		p.MimeType = p.LegacyMimeType
	}
	if p.MimeType == "" {
		p.MimeType = defaultMimeType
	}
	return p.AudioPayload, nil
}

// DecodeSend extracts a send payload with surrounding whitespace removed.
func DecodeSend(msg *Message) (SendPayload, error) {
	var p SendPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return p, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	p.Text = strings.TrimSpace(p.Text)
	return p, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
