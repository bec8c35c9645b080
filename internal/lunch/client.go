package lunch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ledgerbot/internal/cache"
	"ledgerbot/internal/metrics"
)

const (
	dateLayout              = "2006-01-02"
	defaultCategoryCacheTTL = 10 * time.Minute
)

// ErrTokenRevoked indicates the ledger rejected the stored credential. The
// scheduler treats this as a terminal state for the chat.
var ErrTokenRevoked = errors.New("lunch: access token revoked")

// Factory builds per-chat ledger clients sharing one HTTP client, metrics
// and cache.
type Factory struct {
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cache    *cache.Redis
	cacheTTL time.Duration
}

// Config holds ledger client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewFactory creates a client factory for the ledger API.
func NewFactory(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) *Factory {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://dev.lunchmoney.app"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Factory{
		baseURL:  base,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With("component", "lunch"),
		metrics:  metricRegistry,
		cache:    redis,
		cacheTTL: defaultCategoryCacheTTL,
	}
}

// ClientFor returns a ledger client authenticated with the given token.
func (f *Factory) ClientFor(token string) *Client {
	return &Client{factory: f, token: token}
}

// Client provides typed access to the ledger API for one credential.
type Client struct {
	factory *Factory
	token   string
}

// ListTransactions returns transactions dated within [start, end] restricted
// to the requested pending state.
func (c *Client) ListTransactions(ctx context.Context, pending bool, start, end time.Time) ([]Transaction, error) {
	query := url.Values{}
	query.Set("start_date", start.Format(dateLayout))
	query.Set("end_date", end.Format(dateLayout))
	query.Set("pending", strconv.FormatBool(pending))

	var payload struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/transactions", query, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Transactions, nil
}

// GetTransaction fetches a single transaction by ledger id.
func (c *Client) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	var tx Transaction
	path := fmt.Sprintf("/v1/transactions/%d", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// UpdateTransaction applies the given mutation upstream.
func (c *Client) UpdateTransaction(ctx context.Context, id int64, update TransactionUpdate) error {
	body := map[string]any{"transaction": update}
	path := fmt.Sprintf("/v1/transactions/%d", id)

	var payload struct {
		Updated bool            `json:"updated"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := c.do(ctx, http.MethodPut, path, nil, body, &payload); err != nil {
		return err
	}
	if len(payload.Errors) > 0 && string(payload.Errors) != "null" {
		return fmt.Errorf("lunch update transaction %d: %s", id, payload.Errors)
	}
	return nil
}

// ListCategories returns the category tree, cached per credential when redis
// is configured.
func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	cacheKey := c.categoriesCacheKey()
	if c.factory.cache != nil {
		var cached []Category
		ok, err := c.factory.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.factory.logger.Warn("read category cache failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	var payload struct {
		Categories []Category `json:"categories"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/categories", nil, nil, &payload); err != nil {
		return nil, err
	}

	if c.factory.cache != nil {
		if err := c.factory.cache.SetJSON(ctx, cacheKey, payload.Categories, c.factory.cacheTTL); err != nil {
			c.factory.logger.Warn("set category cache failed", "error", err)
		}
	}
	return payload.Categories, nil
}

// InvalidateCategories drops the cached category list for this credential so
// the next ListCategories reads the upstream tree. Called when a chat
// (re)registers the token.
func (c *Client) InvalidateCategories(ctx context.Context) error {
	if c.factory.cache == nil {
		return nil
	}
	if err := c.factory.cache.Delete(ctx, c.categoriesCacheKey()); err != nil {
		return fmt.Errorf("invalidate categories: %w", err)
	}
	return nil
}

// GetUser validates the credential and returns account details.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/v1/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) tokenFingerprint() string {
	sum := sha256.Sum256([]byte(c.token))
	return hex.EncodeToString(sum[:6])
}

func (c *Client) categoriesCacheKey() string {
	return fmt.Sprintf("lunch:categories:%s", c.tokenFingerprint())
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	endpoint := metricEndpoint(path)
	reqURL := c.factory.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.factory.http.Do(req)
	if err != nil {
		if c.factory.metrics != nil {
			c.factory.metrics.LunchRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return fmt.Errorf("lunch request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := strconv.Itoa(res.StatusCode)
	if c.factory.metrics != nil {
		c.factory.metrics.LunchRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.factory.metrics.LunchLatency.WithLabelValues(endpoint, statusLabel).Observe(duration)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		return classifyHTTPError(res.StatusCode, string(bodyBytes))
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyHTTPError(status int, body string) error {
	snippet := strings.TrimSpace(body)
	lower := strings.ToLower(snippet)
	if status == http.StatusUnauthorized ||
		strings.Contains(lower, "access token does not exist") ||
		strings.Contains(lower, "invalid access token") {
		return fmt.Errorf("%w: %s", ErrTokenRevoked, snippet)
	}
	return fmt.Errorf("lunch error: status=%d body=%s", status, snippet)
}

// metricEndpoint collapses resource ids so metric labels stay low-cardinality.
func metricEndpoint(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
