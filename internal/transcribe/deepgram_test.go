package transcribe

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepgram_MissingKey(t *testing.T) {
	res := NewDeepgram(DeepgramOptions{}).Transcribe(context.Background(), []byte("x"), "audio/webm")

	assert.False(t, res.Success)
	assert.Equal(t, "No API key set for deepgram. Set DEEPGRAM_API_KEY.", res.Error)
}

func TestDeepgram_Success(t *testing.T) {
	c := NewDeepgram(DeepgramOptions{APIKey: "dg"})
	c.recognize = func(ctx context.Context, audio io.Reader) (string, error) {
		data, err := io.ReadAll(audio)
		require.NoError(t, err)
		assert.Equal(t, "pcm", string(data))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return " open the readme ", nil
	}

	res := c.Transcribe(context.Background(), []byte("pcm"), "audio/webm")
	require.True(t, res.Success)
	assert.Equal(t, "open the readme", res.Text)
}

func TestDeepgram_Failure(t *testing.T) {
	c := NewDeepgram(DeepgramOptions{APIKey: "dg", Timeout: time.Second})
	c.recognize = func(context.Context, io.Reader) (string, error) {
		return "", errors.New("quota exceeded")
	}

	res := c.Transcribe(context.Background(), []byte("pcm"), "audio/ogg")
	assert.False(t, res.Success)
	assert.Equal(t, "Transcription failed: quota exceeded", res.Error)
}
