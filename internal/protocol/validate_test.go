package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMessage(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	if _, ok := fields["timestamp"]; !ok {
		fields["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeClaudeChunk, ClaudeChunkPayload{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, TypeClaudeChunk, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var p ClaudeChunkPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "hello", p.Text)
}

func TestEncode(t *testing.T) {
	data, err := Encode(TypeStatus, StatusPayload{Message: "Nothing to cancel", AutoDismiss: AutoDismissMillis})
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, TypeStatus, msg.Type)
	assert.JSONEq(t, `{"message":"Nothing to cancel","autoDismiss":2000}`, string(msg.Payload))
}

func TestEncode_OmitsEmptyOptionalFields(t *testing.T) {
	data, err := Encode(TypeClaudeDone, ClaudeDonePayload{Success: true, Output: "ok"})
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.JSONEq(t, `{"success":true,"output":"ok"}`, string(msg.Payload))
}

func TestValidateClientMessage_Valid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"send", map[string]any{"type": TypeSend, "payload": map[string]any{"text": "run the tests"}}},
		{"audio", map[string]any{"type": TypeAudio, "payload": map[string]any{"data": "AAAA", "mimeType": "audio/ogg"}}},
		{"cancel without payload", map[string]any{"type": TypeCancel}},
		{"cancel with payload", map[string]any{"type": TypeCancel, "payload": map[string]any{}}},
		{"reset", map[string]any{"type": TypeReset}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ValidateClientMessage(rawMessage(t, tt.fields))
			require.NoError(t, err)
			assert.Equal(t, tt.fields["type"], msg.Type)
		})
	}
}

func TestValidateClientMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("not json")},
		{"missing type", []byte(`{"payload":{}}`)},
		{"unknown type", []byte(`{"type":"session.create","payload":{}}`)},
		{"send without payload", []byte(`{"type":"send"}`)},
		{"send with null payload", []byte(`{"type":"send","payload":null}`)},
		{"audio with array payload", []byte(`{"type":"audio","payload":[1,2]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateClientMessage(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestValidateClientMessage_UnknownTypeNamed(t *testing.T) {
	_, err := ValidateClientMessage([]byte(`{"type":"dance"}`))
	require.Error(t, err)
	assert.Equal(t, "unknown message type: dance", err.Error())
}

func TestDecodeSend_TrimsText(t *testing.T) {
	msg, err := ValidateClientMessage([]byte(`{"type":"send","payload":{"text":"  fix it \n"}}`))
	require.NoError(t, err)

	p, err := DecodeSend(msg)
	require.NoError(t, err)
	assert.Equal(t, "fix it", p.Text)
}

func TestDecodeSend_WrongFieldType(t *testing.T) {
	msg, err := ValidateClientMessage([]byte(`{"type":"send","payload":{"text":42}}`))
	require.NoError(t, err)

	_, err = DecodeSend(msg)
	assert.Error(t, err)
}

func TestDecodeAudio_DefaultsMimeType(t *testing.T) {
	msg, err := ValidateClientMessage([]byte(`{"type":"audio","payload":{"data":"AAAA"}}`))
	require.NoError(t, err)

	p, err := DecodeAudio(msg)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", p.Data)
	assert.Equal(t, "audio/webm", p.MimeType)
}

func TestValidateClientMessage_FlatFields(t *testing.T) {
	msg, err := ValidateClientMessage([]byte(`{"type":"audio","data":"AAAA","mime_type":"audio/mp4"}`))
	require.NoError(t, err)

	p, err := DecodeAudio(msg)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", p.Data)
	assert.Equal(t, "audio/mp4", p.MimeType)

	msg, err = ValidateClientMessage([]byte(`{"type":"send","text":"run the tests"}`))
	require.NoError(t, err)

	sp, err := DecodeSend(msg)
	require.NoError(t, err)
	assert.Equal(t, "run the tests", sp.Text)
}

func TestDecodeAudio_PrefersMimeType(t *testing.T) {
	msg, err := ValidateClientMessage([]byte(`{"type":"audio","payload":{"data":"AAAA","mimeType":"audio/ogg","mime_type":"audio/mp4"}}`))
	require.NoError(t, err)

	p, err := DecodeAudio(msg)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", p.MimeType)
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrEmptyCommand, "Empty command")
	require.NoError(t, err)
	assert.Equal(t, TypeError, msg.Type)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, ErrEmptyCommand, p.Code)
	assert.Equal(t, "Empty command", p.Message)
}
