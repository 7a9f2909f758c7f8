package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-line/internal/config"
)

func newWhisper(baseURL string, httpClient *http.Client) *WhisperClient {
	return &WhisperClient{
		Provider:   "groq",
		BaseURL:    baseURL,
		APIKey:     "gsk-test",
		KeyEnv:     "GROQ_API_KEY",
		Model:      "whisper-large-v3-turbo",
		HTTPClient: httpClient,
	}
}

func TestWhisper_UploadsMultipartForm(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/openai/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-large-v3-turbo", r.FormValue("model"))
		assert.Equal(t, "json", r.FormValue("response_format"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "recording.ogg", header.Filename)
		assert.Equal(t, "audio/ogg", header.Header.Get("Content-Type"))
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "fake-audio", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  run the unit tests  "}`))
	}))
	defer server.Close()

	res := newWhisper(server.URL+"/openai/v1/", server.Client()).Transcribe(context.Background(), []byte("fake-audio"), "audio/ogg")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "run the unit tests", res.Text)
	assert.Empty(t, res.Error)
}

func TestWhisper_MissingKey(t *testing.T) {
	t.Parallel()

	c := newWhisper("http://127.0.0.1:1", nil)
	c.APIKey = ""

	res := c.Transcribe(context.Background(), []byte("x"), "audio/webm")
	assert.False(t, res.Success)
	assert.Equal(t, "No API key set for groq. Set GROQ_API_KEY.", res.Error)
}

func TestWhisper_APIErrorTruncatesBody(t *testing.T) {
	t.Parallel()

	body := `{"error":{"message":"` + strings.Repeat("e", 800) + `","type":"invalid_request_error","code":"invalid_api_key"}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	res := newWhisper(server.URL, server.Client()).Transcribe(context.Background(), []byte("x"), "audio/webm")

	const prefix = "Transcription API error (401): "
	assert.False(t, res.Success)
	require.True(t, strings.HasPrefix(res.Error, prefix), res.Error)
	detail := strings.TrimPrefix(res.Error, prefix)
	assert.NotEmpty(t, detail)
	assert.LessOrEqual(t, len([]rune(detail)), 500)
	assert.Empty(t, res.Text)
}

func TestWhisper_MalformedResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	res := newWhisper(server.URL, server.Client()).Transcribe(context.Background(), []byte("x"), "audio/webm")
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Transcription failed: "))
}

func TestWhisper_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := newWhisper(server.URL, server.Client())
	c.Timeout = 50 * time.Millisecond

	res := c.Transcribe(context.Background(), []byte("x"), "audio/webm")
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Transcription failed: "))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "recording.webm", Filename("audio/webm"))
	assert.Equal(t, "recording.m4a", Filename("audio/mp4"))
	assert.Equal(t, "recording.m4a", Filename("audio/x-m4a"))
	assert.Equal(t, "recording.ogg", Filename("audio/ogg"))
	assert.Equal(t, "recording.wav", Filename("audio/wav"))
	assert.Equal(t, "recording.mp3", Filename("audio/mpeg"))
	assert.Equal(t, "recording.webm", Filename("audio/flac"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
}

func TestFromSettings(t *testing.T) {
	s := config.Defaults()
	s.GroqAPIKey = "gsk"

	w, ok := FromSettings(s, nil).(*WhisperClient)
	require.True(t, ok)
	assert.Equal(t, "gsk", w.APIKey)
	assert.Equal(t, "GROQ_API_KEY", w.KeyEnv)
	assert.Equal(t, "https://api.groq.com/openai/v1/", w.BaseURL)

	s.TranscriptionProvider = config.ProviderDeepgram
	s.DeepgramAPIKey = "dg"
	d, ok := FromSettings(s, nil).(*DeepgramClient)
	require.True(t, ok)
	assert.Equal(t, "dg", d.apiKey)
}
