package transcribe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultWhisperTimeout = 30 * time.Second
	maxErrorBodyChars     = 500
	defaultExtension      = "webm"
)

// extensions maps browser recording MIME types to upload file extensions.
var extensions = map[string]string{
	"audio/webm":  "webm",
	"audio/mp4":   "m4a",
	"audio/ogg":   "ogg",
	"audio/wav":   "wav",
	"audio/mpeg":  "mp3",
	"audio/x-m4a": "m4a",
}

// WhisperClient transcribes through an OpenAI-compatible audio API (Groq or
// OpenAI) with the OpenAI SDK.
type WhisperClient struct {
	Provider string
	// BaseURL is the API root, such as https://api.groq.com/openai/v1/.
	BaseURL    string
	APIKey     string
	KeyEnv     string
	Model      string
	Language   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Filename returns the upload name used for a MIME type.
func Filename(mimeType string) string {
	ext, ok := extensions[mimeType]
	if !ok {
		ext = defaultExtension
	}
	return "recording." + ext
}

// Transcribe uploads the audio and returns the text.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte, mimeType string) Result {
	if c.APIKey == "" {
		return missingKey(c.Provider, c.KeyEnv)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(c.APIKey),
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	if c.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.HTTPClient))
	}
	client := openai.NewClient(opts...)

	language := c.Language
	if language == "" {
		language = "en"
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	transcription, err := client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(audio), Filename(mimeType), mimeType),
		Model:          openai.AudioModel(c.Model),
		Language:       openai.String(language),
		ResponseFormat: openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			c.logger().Warn("transcription API error", "status", apiErr.StatusCode)
			return failure("Transcription API error (%d): %s", apiErr.StatusCode,
				truncate(strings.TrimSpace(apiErr.RawJSON()), maxErrorBodyChars))
		}
		c.logger().Warn("transcription request failed", "error", err)
		return failure("Transcription failed: %v", err)
	}

	text := strings.TrimSpace(transcription.Text)
	c.logger().Info("transcribed audio", "bytes", len(audio), "chars", len(text), "elapsed", time.Since(start))
	return Result{Text: text, Success: true}
}

func (c *WhisperClient) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultWhisperTimeout
}

func (c *WhisperClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
