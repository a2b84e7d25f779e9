package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/gem-ai-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrEmptyResponse means the model finished normally but produced nothing.
var ErrEmptyResponse = errors.New("model returned an empty response")

// BlockedError means the prompt was rejected before generation started.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("request blocked: %s", e.Reason)
}

// FinishError means generation stopped for an abnormal reason (safety,
// recitation, max tokens and so on).
type FinishError struct {
	Reason string
}

func (e *FinishError) Error() string {
	return fmt.Sprintf("generation stopped: %s", e.Reason)
}

// clientError wraps a 4xx response. Retrying these cannot succeed.
type clientError struct {
	err error
}

func (e *clientError) Error() string { return e.err.Error() }
func (e *clientError) Unwrap() error { return e.err }

// Part is one piece of outbound request content: text, or raw media bytes.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// Request describes one model invocation.
type Request struct {
	Model   string
	System  string // optional persona / system instruction
	History []models.Turn
	Parts   []Part // the current user content
}

// Response is the materialized result of a non-streaming invocation.
type Response struct {
	Text         string
	Images       [][]byte // inline image data returned by image models
	Usage        *models.TokenUsage
	FinishReason string
}

// Service is the generative model client used by the handlers.
type Service interface {
	// Generate performs a request/response invocation.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// Stream starts a streaming invocation; fragments arrive via Stream.Recv.
	Stream(ctx context.Context, req *Request) (Stream, error)
	// Models lists the configured model options for display.
	Models() []config.ModelInfo
	// KnownModel reports whether id is in the configured model list.
	KnownModel(id string) bool
	// IsImageModel reports whether id is configured for image generation.
	IsImageModel(id string) bool
	// IsDocumentModel reports whether id is configured for document analysis.
	IsDocumentModel(id string) bool
}

// Gemini talks to the Gemini REST API.
type Gemini struct {
	cfg        *config.GeminiConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewGemini creates the Gemini client.
func NewGemini(cfg *config.GeminiConfig, logger *logrus.Logger) *Gemini {
	logger.WithFields(logrus.Fields{
		"models":  len(cfg.Models),
		"default": cfg.DefaultModel,
	}).Info("Gemini client initialized")

	return &Gemini{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

func (g *Gemini) Models() []config.ModelInfo {
	return g.cfg.Models
}

func (g *Gemini) KnownModel(id string) bool {
	for _, m := range g.cfg.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (g *Gemini) IsImageModel(id string) bool {
	return containsString(g.cfg.ImageModels, id)
}

func (g *Gemini) IsDocumentModel(id string) bool {
	return containsString(g.cfg.DocumentModels, id)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Wire types for the generateContent endpoints.

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type wireRequest struct {
	Contents          []wireContent `json:"contents"`
	SystemInstruction *wireContent  `json:"systemInstruction,omitempty"`
}

type wireResponse struct {
	Candidates     []wireCandidate     `json:"candidates"`
	PromptFeedback *wirePromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *wireUsageMetadata  `json:"usageMetadata,omitempty"`
	Error          *wireError          `json:"error,omitempty"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason,omitempty"`
}

type wirePromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type wireUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *Gemini) buildBody(req *Request) ([]byte, error) {
	contents := make([]wireContent, 0, len(req.History)+1)
	for _, turn := range req.History {
		parts := make([]wirePart, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			parts = append(parts, wirePart{Text: p.Text})
		}
		contents = append(contents, wireContent{Role: turn.Role, Parts: parts})
	}

	current := wireContent{Role: models.RoleUser}
	for _, p := range req.Parts {
		if len(p.Data) > 0 {
			current.Parts = append(current.Parts, wirePart{
				InlineData: &wireInlineData{
					MIMEType: p.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				},
			})
			continue
		}
		current.Parts = append(current.Parts, wirePart{Text: p.Text})
	}
	contents = append(contents, current)

	body := wireRequest{Contents: contents}
	if req.System != "" {
		body.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.System}}}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

func (g *Gemini) endpoint(model, method, query string) string {
	base := strings.TrimSuffix(g.cfg.BaseURL, "/")
	url := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", base, model, method, g.cfg.APIKey)
	if query != "" {
		url += "&" + query
	}
	return url
}

// Generate performs a request/response invocation with retry. Client errors
// (4xx) and blocked prompts are not retried.
func (g *Gemini) Generate(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		resp, err := g.generateOnce(ctx, req, attempt)
		if err == nil {
			return resp, nil
		}

		var blocked *BlockedError
		var finish *FinishError
		var client *clientError
		if errors.As(err, &blocked) || errors.As(err, &finish) || errors.As(err, &client) || errors.Is(err, ErrEmptyResponse) {
			return nil, err
		}

		lastErr = err
		g.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"model":   req.Model,
		}).Warn("Model request failed, retrying")

		if attempt < g.cfg.MaxRetries {
			// Exponential backoff: 2s, 4s, 8s
			wait := time.Duration(2<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil, fmt.Errorf("all retry attempts failed: %w", lastErr)
}

func (g *Gemini) generateOnce(ctx context.Context, req *Request, attempt int) (*Response, error) {
	data, err := g.buildBody(req)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		g.endpoint(req.Model, "generateContent", ""), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	g.logger.WithFields(logrus.Fields{
		"model":   req.Model,
		"attempt": attempt,
	}).Debug("Sending model request")

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
			return nil, &clientError{fmt.Errorf("model request failed with client error %d: %s", httpResp.StatusCode, string(body))}
		}
		return nil, fmt.Errorf("model request failed with status %d: %s", httpResp.StatusCode, string(body))
	}

	var result wireResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("model error %d: %s", result.Error.Code, result.Error.Message)
	}

	return decodeResponse(&result)
}

// decodeResponse turns a full wire response into a Response, mapping the
// blocked / abnormal-finish / empty outcomes to their error types.
func decodeResponse(wire *wireResponse) (*Response, error) {
	if len(wire.Candidates) == 0 {
		reason := "no reason provided"
		if wire.PromptFeedback != nil && wire.PromptFeedback.BlockReason != "" {
			reason = wire.PromptFeedback.BlockReason
		}
		return nil, &BlockedError{Reason: reason}
	}

	candidate := wire.Candidates[0]
	if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
		return nil, &FinishError{Reason: candidate.FinishReason}
	}
	if len(candidate.Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	resp := &Response{FinishReason: candidate.FinishReason}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "image/") {
			raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				continue
			}
			resp.Images = append(resp.Images, raw)
		}
	}
	resp.Text = text.String()

	if wire.UsageMetadata != nil {
		resp.Usage = &models.TokenUsage{
			PromptTokens:   wire.UsageMetadata.PromptTokenCount,
			ResponseTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:    wire.UsageMetadata.TotalTokenCount,
		}
	}

	if resp.Text == "" && len(resp.Images) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

// Stream starts a streaming invocation against the SSE endpoint.
func (g *Gemini) Stream(ctx context.Context, req *Request) (Stream, error) {
	data, err := g.buildBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.endpoint(req.Model, "streamGenerateContent", "alt=sse"), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	g.logger.WithField("model", req.Model).Debug("Starting model stream")

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("stream request failed with status %d: %s", httpResp.StatusCode, string(body))
	}

	return newSSEStream(httpResp.Body), nil
}
