package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/gem-ai-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGemini(t *testing.T, baseURL string, retries int) *Gemini {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	return NewGemini(&config.GeminiConfig{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		DefaultModel: "gemini-1.5-flash",
		MaxRetries:   retries,
		Models: []config.ModelInfo{
			{ID: "gemini-1.5-flash", Name: "Flash"},
			{ID: "imagen-3.0-generate-002", Name: "Imagen"},
		},
		ImageModels:    []string{"imagen-3.0-generate-002"},
		DocumentModels: []string{"gemini-1.5-flash"},
	}, log)
}

func TestGemini_ModelChecks(t *testing.T) {
	g := newTestGemini(t, "http://unused", 1)

	assert.True(t, g.KnownModel("gemini-1.5-flash"))
	assert.False(t, g.KnownModel("gpt-4"))
	assert.True(t, g.IsImageModel("imagen-3.0-generate-002"))
	assert.False(t, g.IsImageModel("gemini-1.5-flash"))
	assert.True(t, g.IsDocumentModel("gemini-1.5-flash"))
	assert.Len(t, g.Models(), 2)
}

func TestGemini_BuildBody(t *testing.T) {
	g := newTestGemini(t, "http://unused", 1)

	data, err := g.buildBody(&Request{
		Model:  "gemini-1.5-flash",
		System: "be brief",
		History: []models.Turn{
			models.NewTurn(models.RoleUser, "hi"),
			models.NewTurn(models.RoleModel, "hello"),
		},
		Parts: []Part{
			{Text: "what's up"},
			{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}},
		},
	})
	require.NoError(t, err)

	var body wireRequest
	require.NoError(t, json.Unmarshal(data, &body))

	// Two history turns plus the current user content
	require.Len(t, body.Contents, 3)
	assert.Equal(t, models.RoleUser, body.Contents[0].Role)
	assert.Equal(t, "hi", body.Contents[0].Parts[0].Text)
	assert.Equal(t, models.RoleModel, body.Contents[1].Role)

	current := body.Contents[2]
	require.Len(t, current.Parts, 2)
	assert.Equal(t, "what's up", current.Parts[0].Text)
	require.NotNil(t, current.Parts[1].InlineData)
	assert.Equal(t, "image/jpeg", current.Parts[1].InlineData.MIMEType)

	require.NotNil(t, body.SystemInstruction)
	assert.Equal(t, "be brief", body.SystemInstruction.Parts[0].Text)
}

func TestDecodeResponse(t *testing.T) {
	t.Run("text with usage", func(t *testing.T) {
		resp, err := decodeResponse(&wireResponse{
			Candidates: []wireCandidate{{
				Content:      wireContent{Parts: []wirePart{{Text: "hello "}, {Text: "world"}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: &wireUsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 4, TotalTokenCount: 7},
		})
		require.NoError(t, err)
		assert.Equal(t, "hello world", resp.Text)
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 7, resp.Usage.TotalTokens)
	})

	t.Run("blocked prompt", func(t *testing.T) {
		_, err := decodeResponse(&wireResponse{
			PromptFeedback: &wirePromptFeedback{BlockReason: "SAFETY"},
		})
		var blocked *BlockedError
		require.True(t, errors.As(err, &blocked))
		assert.Equal(t, "SAFETY", blocked.Reason)
	})

	t.Run("abnormal finish", func(t *testing.T) {
		_, err := decodeResponse(&wireResponse{
			Candidates: []wireCandidate{{
				Content:      wireContent{Parts: []wirePart{{Text: "cut"}}},
				FinishReason: "MAX_TOKENS",
			}},
		})
		var finish *FinishError
		require.True(t, errors.As(err, &finish))
		assert.Equal(t, "MAX_TOKENS", finish.Reason)
	})

	t.Run("empty candidate", func(t *testing.T) {
		_, err := decodeResponse(&wireResponse{
			Candidates: []wireCandidate{{Content: wireContent{}}},
		})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestGemini_GenerateRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(wireResponse{
			Candidates: []wireCandidate{{
				Content:      wireContent{Parts: []wirePart{{Text: "ok"}}},
				FinishReason: "STOP",
			}},
		})
	}))
	defer server.Close()

	g := newTestGemini(t, server.URL, 2)
	resp, err := g.Generate(context.Background(), &Request{
		Model: "gemini-1.5-flash",
		Parts: []Part{{Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, calls)
}

func TestGemini_GenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad"}}`))
	}))
	defer server.Close()

	g := newTestGemini(t, server.URL, 3)
	_, err := g.Generate(context.Background(), &Request{
		Model: "gemini-1.5-flash",
		Parts: []Part{{Text: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
