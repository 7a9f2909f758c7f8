package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode marshals a server message in one step.
func Encode(msgType string, payload any) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Server → Client message types.
const (
	TypeConfig        = "config"
	TypeStatus        = "status"
	TypeTranscription = "transcription"
	TypeCleanup       = "cleanup"
	TypeClaudeChunk   = "claude.chunk"
	TypeClaudeDone    = "claude.done"
	TypeFilesChanged  = "files.changed"
	TypeFilesCount    = "files.count"
	TypeError         = "error"
)

// Client → Server message types.
const (
	TypeAudio  = "audio"
	TypeSend   = "send"
	TypeCancel = "cancel"
	TypeReset  = "reset"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrEmptyCommand   = "EMPTY_COMMAND"
	ErrInvalidAudio   = "INVALID_AUDIO"
)

// Status messages dismissed automatically by the client use this delay.
const AutoDismissMillis = 2000

// Server → Client payloads.

type ConfigPayload struct {
	WorkDir        string `json:"workDir"`
	WorkDirDisplay string `json:"workDirDisplay"`
	FileCount      int    `json:"fileCount"`
}

type StatusPayload struct {
	Message     string `json:"message"`
	AutoDismiss int    `json:"autoDismiss,omitempty"`
}

type TranscriptionPayload struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type CleanupPayload struct {
	Text     string `json:"text"`
	Original string `json:"original"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ClaudeChunkPayload struct {
	Text string `json:"text"`
}

type ClaudeDonePayload struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

type FilesChangedPayload struct {
	Paths     []string `json:"paths"`
	FileCount int      `json:"fileCount"`
}

type FilesCountPayload struct {
	FileCount int `json:"fileCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type AudioPayload struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type SendPayload struct {
	Text string `json:"text"`
}
