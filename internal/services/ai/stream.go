package ai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gem-ai-tgbot-go/internal/models"
)

// Stream is a lazy, finite, non-restartable sequence of text fragments
// from a single model invocation. Recv returns io.EOF when the sequence is
// exhausted; usage metadata and the finish reason are only meaningful after
// that. An abnormal finish or a blocked prompt surfaces as an error from
// Recv, never as a silent end of stream.
type Stream interface {
	Recv() (string, error)
	Usage() *models.TokenUsage
	FinishReason() string
	Close() error
}

// sseStream reads server-sent events from a streamGenerateContent response.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	usage        *models.TokenUsage
	finishReason string
	done         bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk wireResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("malformed stream chunk: %w", err)
		}
		if chunk.Error != nil {
			s.done = true
			return "", fmt.Errorf("model error %d: %s", chunk.Error.Code, chunk.Error.Message)
		}

		if chunk.UsageMetadata != nil {
			s.usage = &models.TokenUsage{
				PromptTokens:   chunk.UsageMetadata.PromptTokenCount,
				ResponseTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:    chunk.UsageMetadata.TotalTokenCount,
			}
		}

		if len(chunk.Candidates) == 0 {
			if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
				s.done = true
				return "", &BlockedError{Reason: chunk.PromptFeedback.BlockReason}
			}
			continue
		}

		candidate := chunk.Candidates[0]
		if candidate.FinishReason != "" {
			s.finishReason = candidate.FinishReason
		}

		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read failed: %w", err)
	}
	if s.finishReason != "" && s.finishReason != "STOP" {
		return "", &FinishError{Reason: s.finishReason}
	}
	return "", io.EOF
}

func (s *sseStream) Usage() *models.TokenUsage {
	return s.usage
}

func (s *sseStream) FinishReason() string {
	return s.finishReason
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
