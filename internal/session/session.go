package session

import "time"

// Status represents the lifecycle state of the Manager.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

// State tracks the conversation a Manager drives across invocations.
type State struct {
	// ID is the resume token reported by claude. Empty means the next
	// invocation starts a fresh conversation.
	ID      string   `json:"sessionId,omitempty"`
	Running bool     `json:"running"`
	History []string `json:"history"`
}

// Sink receives output chunks in stream order while an invocation runs.
type Sink func(chunk string)

// Result is the outcome of one Execute call.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`

	// Err carries the sentinel behind Error for errors.Is checks.
	Err error `json:"-"`
}

// OutputEventType distinguishes forwarded chunks from error notices.
type OutputEventType string

const (
	OutputChunk OutputEventType = "chunk"
	OutputError OutputEventType = "error"
)

// OutputEvent is a single chunk emitted by an invocation, kept for replay.
type OutputEvent struct {
	InvocationID string          `json:"invocationId"`
	Type         OutputEventType `json:"type"`
	Data         string          `json:"data"`
	Timestamp    time.Time       `json:"timestamp"`
}
