// Package transcribe turns recorded audio into text through a speech-to-text
// provider.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	"claude-line/internal/config"
)

// Result is the outcome of one transcription. Failures are reported in
// Error, never as a Go error.
type Result struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Transcriber converts audio bytes of the given MIME type to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) Result
}

// FromSettings builds the Transcriber selected by the settings.
func FromSettings(s config.Settings, logger *slog.Logger) Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", s.TranscriptionProvider)

	if s.TranscriptionProvider == config.ProviderDeepgram {
		return NewDeepgram(DeepgramOptions{
			APIKey: s.DeepgramAPIKey,
			Model:  s.DeepgramModel,
			Logger: logger,
		})
	}
	return &WhisperClient{
		Provider: s.TranscriptionProvider,
		BaseURL:  s.TranscriptionBaseURL(),
		APIKey:   s.TranscriptionAPIKey(),
		KeyEnv:   s.TranscriptionKeyEnv(),
		Model:    s.WhisperModel,
		Logger:   logger,
	}
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

func missingKey(provider, env string) Result {
	return failure("No API key set for %s. Set %s.", provider, env)
}
