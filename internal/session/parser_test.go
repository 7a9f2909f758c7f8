package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestParseLine_SystemSessionID(t *testing.T) {
	ev := ParseLine(`{"type":"system","subtype":"init","session_id":"abc-123","cwd":"/project"}`)

	assert.Equal(t, EventSessionInit, ev.Kind)
	assert.Equal(t, "abc-123", ev.SessionID)
	assert.Empty(t, ev.Text)
}

func TestParseLine_SystemWithoutSessionID(t *testing.T) {
	ev := ParseLine(`{"type":"system","subtype":"init"}`)
	assert.Equal(t, EventIgnored, ev.Kind)
	assert.Empty(t, ev.SessionID)
}

func TestParseLine_AssistantStringMessage(t *testing.T) {
	ev := ParseLine(`{"type":"assistant","message":"Hello world"}`)

	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "Hello world", ev.Text)
	assert.Empty(t, ev.Tools)
}

func TestParseLine_AssistantEmptyStringMessage(t *testing.T) {
	ev := ParseLine(`{"type":"assistant","message":""}`)
	assert.Equal(t, EventIgnored, ev.Kind)
}

func TestParseLine_AssistantTextBlocks(t *testing.T) {
	line := mustJSON(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "Some "},
				map[string]any{"type": "text", "text": "output"},
			},
		},
	})

	ev := ParseLine(line)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "Some output", ev.Text)
}

func TestParseLine_AssistantToolUse(t *testing.T) {
	line := mustJSON(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "tool_use", "id": "toolu_1", "name": "Read", "input": map[string]any{"file_path": "/a.go"}},
				map[string]any{"type": "tool_use", "id": "toolu_2", "name": "Grep"},
			},
		},
	})

	ev := ParseLine(line)
	assert.Equal(t, EventToolUse, ev.Kind)
	assert.Equal(t, []string{"Read", "Grep"}, ev.Tools)
	assert.Empty(t, ev.Text)
}

func TestParseLine_AssistantToolUseWithoutName(t *testing.T) {
	ev := ParseLine(`{"type":"assistant","message":{"content":[{"type":"tool_use"}]}}`)

	assert.Equal(t, EventToolUse, ev.Kind)
	assert.Equal(t, []string{"tool"}, ev.Tools)
}

func TestParseLine_AssistantCombinedTextAndTools(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"Let me look. "},` +
		`{"type":"tool_use","name":"Read"},` +
		`{"type":"text","text":"Then edit."},` +
		`{"type":"tool_use","name":"Edit"}]}}`

	ev := ParseLine(line)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "Let me look. Then edit.", ev.Text)
	assert.Equal(t, []string{"Read", "Edit"}, ev.Tools)
}

func TestParseLine_AssistantStringBlocks(t *testing.T) {
	ev := ParseLine(`{"type":"assistant","message":{"content":["raw ", {"type":"text","text":"text"}]}}`)

	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "raw text", ev.Text)
}

func TestParseLine_AssistantNothingForwardable(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty content", `{"type":"assistant","message":{"content":[]}}`},
		{"no content", `{"type":"assistant","message":{"id":"msg_1"}}`},
		{"no message", `{"type":"assistant"}`},
		{"null message", `{"type":"assistant","message":null}`},
		{"content not a list", `{"type":"assistant","message":{"content":"oops"}}`},
		{"unknown blocks", `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"}]}}`},
		{"empty text block", `{"type":"assistant","message":{"content":[{"type":"text","text":""}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, EventIgnored, ParseLine(tt.line).Kind)
		})
	}
}

func TestParseLine_ResultText(t *testing.T) {
	ev := ParseLine(`{"type":"result","subtype":"success","result":"Final output"}`)

	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "Final output", ev.Text)
}

func TestParseLine_ResultCapturesSessionID(t *testing.T) {
	ev := ParseLine(`{"type":"result","result":"","session_id":"xyz-789","subtype":"success"}`)

	assert.Equal(t, EventIgnored, ev.Kind)
	assert.Equal(t, "xyz-789", ev.SessionID)
}

func TestParseLine_ResultEmptySessionID(t *testing.T) {
	ev := ParseLine(`{"type":"result","result":"","session_id":""}`)

	assert.True(t, ev.HasSessionID)
	assert.Empty(t, ev.SessionID)

	ev = ParseLine(`{"type":"result","result":""}`)
	assert.False(t, ev.HasSessionID)
}

func TestParseLine_ResultTextAndSessionID(t *testing.T) {
	ev := ParseLine(`{"type":"result","result":"done","session_id":"xyz-789"}`)

	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "done", ev.Text)
	assert.Equal(t, "xyz-789", ev.SessionID)
}

func TestParseLine_PlainTextFallback(t *testing.T) {
	ev := ParseLine("plain text output")

	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "plain text output\n", ev.Text)
}

func TestParseLine_IgnoresOtherShapes(t *testing.T) {
	tests := []string{
		`{"type":"unknown_type","data":"something"}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","content":"ok"}]}}`,
		`{"no_type":true}`,
		`{"type":42}`,
		`42`,
		`"a json string"`,
		`[1,2,3]`,
		`null`,
	}

	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			ev := ParseLine(line)
			assert.Equal(t, EventIgnored, ev.Kind)
			assert.Empty(t, ev.Text)
		})
	}
}

func TestDecodeLine_ReplacesInvalidUTF8(t *testing.T) {
	got := DecodeLine([]byte("ok \xff\xfe done\n"))
	assert.Equal(t, "ok \uFFFD done", got)
}

func TestDecodeLine_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, `{"type":"system"}`, DecodeLine([]byte("  {\"type\":\"system\"}\r\n")))
	assert.Empty(t, DecodeLine([]byte("\n")))
}

func TestParseLine_NonJSONRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.StringMatching(`[a-zA-Z][a-zA-Z0-9 .:,!-]{0,40}`).Draw(t, "line")
		if json.Valid([]byte(line)) {
			t.Skip("valid JSON")
		}

		ev := ParseLine(line)
		if ev.Kind != EventText || ev.Text != line+"\n" {
			t.Fatalf("ParseLine(%q) = %+v, want text %q", line, ev, line+"\n")
		}
	})
}
