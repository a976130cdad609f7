package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/protocolpilot/protocolpilot/internal/common"
)

// HTTPClient talks to an OpenAI-compatible chat completions endpoint
// (Ollama, vLLM, OpenAI). It enforces a per-call timeout, retries transient
// failures with exponential backoff plus jitter, and coerces free-form
// responses into schema-valid JSON.
type HTTPClient struct {
	cfg    common.LLMConfig
	client *http.Client
	logger *slog.Logger
}

func NewHTTPClient(cfg common.LLMConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{}, // per-call timeout comes from the request context
		logger: logger,
	}
}

// CallJSON sends the prompt pair and returns schema-valid JSON or a
// *Failure. Transport errors and malformed output are retried up to the
// configured budget; schema violations are surfaced to the caller directly.
func (c *HTTPClient) CallJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.call.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"system_len", len(req.System),
		"user_len", len(req.User),
	)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt-1); err != nil {
				return nil, NewFailure(TransportFailure, "cancelled during backoff", err)
			}
			c.logger.Warn("llm.call.retry", "req_id", rid, "attempt", attempt, "last_error", lastErr)
		}

		raw, err := c.callOnce(ctx, req)
		if err == nil {
			c.logger.Info("llm.call.ok",
				"req_id", rid,
				"attempts", attempt+1,
				"bytes", len(raw),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return raw, nil
		}

		lastErr = err
		if !retryable(KindOf(err)) {
			break
		}
	}

	c.logger.Error("llm.call.failed",
		"req_id", rid,
		"kind", string(KindOf(lastErr)),
		"error", lastErr,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil, lastErr
}

func (c *HTTPClient) callOnce(parent context.Context, req Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/")
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		endpoint += "/chat/completions"
	}

	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return nil, NewFailure(TransportFailure, "chat completions request", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, NewFailure(MalformedOutput, "decode completions envelope", err)
	}
	if len(cc.Choices) == 0 {
		return nil, NewFailure(MalformedOutput, "no choices in response", nil)
	}

	content := RecoverJSON(cc.Choices[0].Message.Content)
	if content == "" {
		return nil, NewFailure(MalformedOutput, "no JSON object in response", nil)
	}
	if req.Schema != nil {
		if err := ValidateJSONAgainstSchema(req.Schema, []byte(content)); err != nil {
			return nil, NewFailure(SchemaViolation, "response does not satisfy schema", err)
		}
	}
	return json.RawMessage(content), nil
}

func (c *HTTPClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if cerr := Body.Close(); cerr != nil {
			c.logger.Warn("llm response body close error", "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

// sleepBackoff waits backoff_base * 2^attempt plus jitter, capped.
func (c *HTTPClient) sleepBackoff(ctx context.Context, attempt int) error {
	d := c.cfg.BackoffBase << uint(attempt)
	if d > c.cfg.BackoffCap {
		d = c.cfg.BackoffCap
	}
	d += time.Duration(rand.Int63n(int64(d)/4 + 1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
