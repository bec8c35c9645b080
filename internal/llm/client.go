package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ledgerbot/internal/metrics"
)

const defaultBaseURL = "https://api.deepinfra.com/v1/openai"

// ErrEmptyCompletion indicates the model returned no usable content.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Config holds LLM client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New creates an LLM client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "llm"),
		metrics: metricRegistry,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// SuggestCategory sends the categorization prompt and returns the raw model
// reply, expected to be a bare category id.
func (c *Client) SuggestCategory(ctx context.Context, prompt string) (string, error) {
	reply, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (c *Client) complete(ctx context.Context, content string) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Temperature: 0.0,
		Messages:    []chatMessage{{Role: "user", Content: content}},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe("error", start)
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		c.observe("error", start)
		return "", fmt.Errorf("read llm response: %w", err)
	}

	if res.StatusCode >= 400 {
		c.observe("error", start)
		return "", fmt.Errorf("llm error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.observe("error", start)
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		c.observe("empty", start)
		return "", ErrEmptyCompletion
	}

	c.observe("ok", start)
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) observe(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.LLMRequests.WithLabelValues(status).Inc()
	c.metrics.LLMLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
