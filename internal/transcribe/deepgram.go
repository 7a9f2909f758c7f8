package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	defaultDeepgramModel   = "nova-2"
	defaultDeepgramTimeout = 30 * time.Second
)

var initDeepgram sync.Once

// recognizeFunc sends audio to Deepgram and returns the best transcript.
type recognizeFunc func(ctx context.Context, audio io.Reader) (string, error)

// DeepgramOptions configures a DeepgramClient.
type DeepgramOptions struct {
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// DeepgramClient transcribes pre-recorded audio with the Deepgram SDK.
type DeepgramClient struct {
	apiKey    string
	timeout   time.Duration
	logger    *slog.Logger
	recognize recognizeFunc
}

// NewDeepgram creates a Deepgram-backed Transcriber.
func NewDeepgram(opts DeepgramOptions) *DeepgramClient {
	model := opts.Model
	if model == "" {
		model = defaultDeepgramModel
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDeepgramTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &DeepgramClient{apiKey: opts.APIKey, timeout: timeout, logger: logger}
	c.recognize = func(ctx context.Context, audio io.Reader) (string, error) {
		initDeepgram.Do(client.InitWithDefault)

		dg := api.New(client.NewREST(opts.APIKey, &interfaces.ClientOptions{}))
		res, err := dg.FromStream(ctx, audio, &interfaces.PreRecordedTranscriptionOptions{
			Model:       model,
			Language:    language,
			SmartFormat: true,
			Punctuate:   true,
		})
		if err != nil {
			return "", err
		}
		if res == nil || res.Results == nil || len(res.Results.Channels) == 0 ||
			len(res.Results.Channels[0].Alternatives) == 0 {
			return "", errors.New("empty response")
		}
		return res.Results.Channels[0].Alternatives[0].Transcript, nil
	}
	return c
}

// Transcribe sends the audio to Deepgram. The MIME type is detected by the
// service and only logged here.
func (c *DeepgramClient) Transcribe(ctx context.Context, audio []byte, mimeType string) Result {
	if c.apiKey == "" {
		return missingKey("deepgram", "DEEPGRAM_API_KEY")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.recognize(ctx, bytes.NewReader(audio))
	if err != nil {
		c.logger.Warn("deepgram transcription failed", "mimeType", mimeType, "error", err)
		return Result{Error: fmt.Sprintf("Transcription failed: %v", err)}
	}

	text = strings.TrimSpace(text)
	c.logger.Info("transcribed audio", "bytes", len(audio), "chars", len(text), "elapsed", time.Since(start))
	return Result{Text: text, Success: true}
}
