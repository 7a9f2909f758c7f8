package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id int) OutputEvent {
	return OutputEvent{
		InvocationID: "test",
		Type:         OutputChunk,
		Data:         fmt.Sprintf("chunk-%d", id),
		Timestamp:    time.Now().UTC(),
	}
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer(10)
	assert.Empty(t, rb.ReadAll())
	assert.Zero(t, rb.Len())
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), e.Data)
	}
	assert.Equal(t, 5, rb.Len())
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("chunk-%d", i+3), e.Data)
	}
	assert.Equal(t, 5, rb.Len())
}

func TestRingBuffer_ExactFill(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 3; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 3)
	assert.Equal(t, "chunk-0", events[0].Data)
	assert.Equal(t, "chunk-2", events[2].Data)
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 4; i++ {
		rb.Write(makeEvent(i))
	}
	rb.Clear()

	assert.Empty(t, rb.ReadAll())
	rb.Write(makeEvent(9))
	events := rb.ReadAll()
	require.Len(t, events, 1)
	assert.Equal(t, "chunk-9", events[0].Data)
}

func TestRingBuffer_MinimumCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Write(makeEvent(1))
	rb.Write(makeEvent(2))

	events := rb.ReadAll()
	require.Len(t, events, 1)
	assert.Equal(t, "chunk-2", events[0].Data)
}
