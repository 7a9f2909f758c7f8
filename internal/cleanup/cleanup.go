// Package cleanup rewrites dictated speech into precise written
// instructions with a language model.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"claude-line/internal/config"
)

const (
	openAIModel = "gpt-4o-mini"

	defaultTimeout    = 15 * time.Second
	maxTokens         = 2048
	temperature       = 0.1
	maxErrorBodyChars = 500
)

// SystemPrompt instructs the model how to clean a transcription.
const SystemPrompt = `You are a text cleanup assistant. Your job is to take transcribed speech, which may contain false starts, self-corrections, filler words, repetitions, and conversational artifacts, and convert it into clean, precise written text suitable as instructions for a coding assistant (Claude Code).

Rules:
- Preserve the user's intent exactly. Do not add, infer, or remove instructions.
- Remove filler words (um, uh, like, you know, so, basically, etc.)
- Resolve self-corrections: if the user says "no wait, I mean X", keep only X.
- Collapse repetitions into single statements.
- Fix obvious grammar issues that arise from speech patterns.
- Keep technical terms, file paths, variable names, and code references exactly as spoken.
- Output ONLY the cleaned text, nothing else. No preamble, no explanation.
- If the input is already clean, return it unchanged.
`

// Result is the outcome of one cleanup pass. On failure Text holds the
// original input so the caller can still use it.
type Result struct {
	Text     string `json:"text"`
	Original string `json:"original"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Cleaner rewrites raw transcribed text.
type Cleaner interface {
	Cleanup(ctx context.Context, raw string) Result
}

// Client calls the configured provider.
type Client struct {
	Enabled         bool
	Provider        string
	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// AnthropicBaseURL and OpenAIBaseURL override the public API roots.
	AnthropicBaseURL string
	OpenAIBaseURL    string

	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// FromSettings builds a Client from the cleanup settings.
func FromSettings(s config.Settings, logger *slog.Logger) *Client {
	return &Client{
		Enabled:         s.CleanupEnabled,
		Provider:        s.CleanupProvider,
		Model:           s.CleanupModel,
		AnthropicAPIKey: s.AnthropicAPIKey,
		OpenAIAPIKey:    s.OpenAIAPIKey,
		Logger:          logger,
	}
}

// Cleanup runs one cleanup pass. A disabled client passes the text through.
func (c *Client) Cleanup(ctx context.Context, raw string) Result {
	if !c.Enabled {
		return Result{Text: raw, Original: raw, Success: true, Skipped: true}
	}

	var (
		cleaned string
		err     error
	)
	switch c.Provider {
	case config.CleanupAnthropic:
		if c.AnthropicAPIKey == "" {
			return failed(raw, "ANTHROPIC_API_KEY not set")
		}
		cleaned, err = c.viaAnthropic(ctx, raw)
	case config.CleanupOpenAI:
		if c.OpenAIAPIKey == "" {
			return failed(raw, "OPENAI_API_KEY not set")
		}
		cleaned, err = c.viaOpenAI(ctx, raw)
	default:
		return failed(raw, fmt.Sprintf("Unknown cleanup provider: %s", c.Provider))
	}

	if err != nil {
		c.logger().Warn("cleanup failed", "provider", c.Provider, "error", err)
		return failed(raw, fmt.Sprintf("Cleanup failed: %v", err))
	}
	return Result{Text: strings.TrimSpace(cleaned), Original: raw, Success: true}
}

func failed(raw, msg string) Result {
	return Result{Text: raw, Original: raw, Error: msg}
}

func (c *Client) viaAnthropic(ctx context.Context, raw string) (string, error) {
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(c.AnthropicAPIKey),
		anthropicopt.WithMaxRetries(0),
	}
	if c.AnthropicBaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(c.AnthropicBaseURL))
	}
	if c.HTTPClient != nil {
		opts = append(opts, anthropicopt.WithHTTPClient(c.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(raw)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("status %d: %s", apiErr.StatusCode, truncate(apiErr.RawJSON(), maxErrorBodyChars))
		}
		return "", err
	}
	if len(msg.Content) == 0 {
		return "", errors.New("response has no content")
	}
	return msg.Content[0].Text, nil
}

func (c *Client) viaOpenAI(ctx context.Context, raw string) (string, error) {
	opts := []openaiopt.RequestOption{
		openaiopt.WithAPIKey(c.OpenAIAPIKey),
		openaiopt.WithMaxRetries(0),
	}
	if c.OpenAIBaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(c.OpenAIBaseURL))
	}
	if c.HTTPClient != nil {
		opts = append(opts, openaiopt.WithHTTPClient(c.HTTPClient))
	}
	client := openai.NewClient(opts...)

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(openAIModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(raw),
		},
		MaxTokens:   openai.Int(maxTokens),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("status %d: %s", apiErr.StatusCode, truncate(apiErr.RawJSON(), maxErrorBodyChars))
		}
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
