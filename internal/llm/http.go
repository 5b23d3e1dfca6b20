package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rankforge/pkg/models"
)

// DefaultHTTPTimeout bounds a single HTTP round-trip to the provider
const DefaultHTTPTimeout = 120 * time.Second

// HTTPConfig configures an OpenAI-compatible session endpoint
type HTTPConfig struct {
	BaseURL            string
	ModelName          string
	APIKey             string
	Instructions       string // fixed system prompt, constant for the session's lifetime
	RateLimitPerMinute int
	HTTPTimeout        time.Duration
}

// HTTPSession implements Session over an OpenAI-compatible chat completions
// endpoint. One call per Respond; retry policy lives in the generation client.
type HTTPSession struct {
	cfg        HTTPConfig
	httpClient *http.Client
	pool       *LimiterPool
	logger     *slog.Logger
}

// NewHTTPSession creates a session against cfg's endpoint. The pool is shared
// across sessions so recreated sessions keep the same rate budget.
func NewHTTPSession(cfg HTTPConfig, pool *LimiterPool, logger *slog.Logger) *HTTPSession {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 60
	}
	return &HTTPSession{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		pool:       pool,
		logger:     logger,
	}
}

// HTTPFactory returns a Factory producing fresh sessions with the same
// configuration, used for session recreation during retries.
func HTTPFactory(cfg HTTPConfig, pool *LimiterPool, logger *slog.Logger) Factory {
	return func() (Session, error) {
		return NewHTTPSession(cfg, pool, logger), nil
	}
}

// Respond returns the raw response text for the prompt
func (s *HTTPSession) Respond(ctx context.Context, prompt string, opts models.DecodingConfig) (string, error) {
	return s.complete(ctx, prompt, opts, nil)
}

// RespondStructured requests JSON output and parses the single items field.
// A response that cannot be recovered as a list is a malformed-output error.
func (s *HTTPSession) RespondStructured(ctx context.Context, prompt string, opts models.DecodingConfig) ([]string, error) {
	content, err := s.complete(ctx, prompt, opts, &responseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}

	var list structuredList
	if err := json.Unmarshal([]byte(content), &list); err == nil && list.Items != nil {
		return trimNonEmpty(list.Items), nil
	}

	// Some providers return the bare array despite json_object mode
	var items []string
	if err := json.Unmarshal([]byte(content), &items); err == nil {
		return trimNonEmpty(items), nil
	}

	return nil, Malformed("structured response is not a string list", nil)
}

func (s *HTTPSession) complete(ctx context.Context, prompt string, opts models.DecodingConfig, format *responseFormat) (string, error) {
	endpointID := s.cfg.BaseURL + ":" + s.cfg.ModelName
	if err := s.pool.Wait(ctx, endpointID, s.cfg.RateLimitPerMinute); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	messages := []chatMessage{}
	if s.cfg.Instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s.cfg.Instructions})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	req := chatRequest{
		Model:          s.cfg.ModelName,
		Messages:       messages,
		Seed:           opts.Seed,
		MaxTokens:      opts.MaxTokens,
		N:              1,
		ResponseFormat: format,
	}
	switch opts.Sampling.Mode {
	case models.SamplingGreedy:
		zero := 0.0
		req.Temperature = &zero
	case models.SamplingTopK:
		temp := opts.Temperature
		req.Temperature = &temp
		req.TopK = opts.Sampling.TopK
	case models.SamplingTopP:
		temp := opts.Temperature
		req.Temperature = &temp
		req.TopP = opts.Sampling.TopP
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", Transient("request cancelled or timed out", ctx.Err())
		}
		return "", Transient("request failed", err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			s.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", Transient("failed to read response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", s.classifyStatus(httpResp.StatusCode, respBody)
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", Malformed("failed to parse response", err)
	}
	if len(resp.Choices) == 0 {
		return "", Malformed("no choices in response", nil)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", Refusal("response blocked by content filter")
	}
	return choice.Message.Content, nil
}

// classifyStatus maps a non-200 status to the error taxonomy: rate limits and
// server errors are transient, guardrail rejections are refusals, anything
// else stays unclassified and is never retried.
func (s *HTTPSession) classifyStatus(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	errType := ""
	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		errType = envelope.Error.Type
	}

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusInternalServerError,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return Transient(fmt.Sprintf("provider error (status %d): %s", statusCode, message), nil)
	case errType == "content_filter" || errType == "content_policy_violation" ||
		strings.Contains(strings.ToLower(message), "content policy"):
		return Refusal(message)
	default:
		return fmt.Errorf("unexpected API error (status %d): %s", statusCode, message)
	}
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
