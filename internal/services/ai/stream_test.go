package ai

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseBody(events ...string) io.ReadCloser {
	var b strings.Builder
	for _, event := range events {
		b.WriteString("data: ")
		b.WriteString(event)
		b.WriteString("\n\n")
	}
	return io.NopCloser(strings.NewReader(b.String()))
}

func TestSSEStream_Fragments(t *testing.T) {
	s := newSSEStream(sseBody(
		`{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"totalTokenCount":7}}`,
	))
	defer s.Close()

	first, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", first)

	second, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lo", second)

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)

	// Metadata is complete once the stream is drained
	require.NotNil(t, s.Usage())
	assert.Equal(t, 7, s.Usage().TotalTokens)
	assert.Equal(t, "STOP", s.FinishReason())

	// Recv stays at EOF after exhaustion
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestSSEStream_MultiPartChunk(t *testing.T) {
	s := newSSEStream(sseBody(
		`{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`,
	))
	defer s.Close()

	text, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestSSEStream_SkipsDoneAndBlankLines(t *testing.T) {
	body := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"x\"}]}}]}\n" +
		"\n" +
		"data: [DONE]\n"
	s := newSSEStream(io.NopCloser(strings.NewReader(body)))
	defer s.Close()

	text, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "x", text)

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestSSEStream_BlockedPrompt(t *testing.T) {
	s := newSSEStream(sseBody(
		`{"promptFeedback":{"blockReason":"SAFETY"}}`,
	))
	defer s.Close()

	_, err := s.Recv()
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "SAFETY", blocked.Reason)
}

func TestSSEStream_AbnormalFinish(t *testing.T) {
	s := newSSEStream(sseBody(
		`{"candidates":[{"content":{"parts":[{"text":"partial"}]},"finishReason":"MAX_TOKENS"}]}`,
	))
	defer s.Close()

	text, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", text)

	_, err = s.Recv()
	var finish *FinishError
	require.True(t, errors.As(err, &finish))
	assert.Equal(t, "MAX_TOKENS", finish.Reason)
}

func TestSSEStream_InlineError(t *testing.T) {
	s := newSSEStream(sseBody(
		`{"error":{"code":429,"message":"quota exceeded"}}`,
	))
	defer s.Close()

	_, err := s.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}
