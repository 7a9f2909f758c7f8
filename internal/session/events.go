package session

// EventKind classifies a parsed line of claude output.
type EventKind int

const (
	// EventIgnored is a recognised line with nothing to forward.
	EventIgnored EventKind = iota
	// EventText carries forwardable text, and possibly the tool names of the
	// same assistant message.
	EventText
	// EventToolUse carries tool names only.
	EventToolUse
	// EventSessionInit reports the resume token. Never forwarded.
	EventSessionInit
)

func (k EventKind) String() string {
	switch k {
	case EventIgnored:
		return "ignored"
	case EventText:
		return "text"
	case EventToolUse:
		return "tool_use"
	case EventSessionInit:
		return "session_init"
	default:
		return "unknown"
	}
}

// Event is the semantic form of one stdout line.
type Event struct {
	Kind EventKind
	Text string
	// Tools lists tool names in block order. A text event with tools is a
	// single assistant message holding both; its tools come before its text.
	Tools []string
	// SessionID is set on EventSessionInit and on result records that
	// report one, whatever their Kind.
	SessionID string
	// HasSessionID reports that the line carried a session id. A result
	// record may carry an empty one, which ends the conversation.
	HasSessionID bool
}

// Stream-json record and block types.
const (
	recordSystem    = "system"
	recordAssistant = "assistant"
	recordResult    = "result"

	blockText    = "text"
	blockToolUse = "tool_use"

	defaultToolName = "tool"
)

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}
