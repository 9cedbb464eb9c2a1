package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamswitch/internal/models"
)

const (
	defaultHTTPAttempts      = 3
	defaultHTTPRetryInterval = 500 * time.Millisecond
)

type HTTPCatalogConfig struct {
	BaseURL       string
	Token         string
	Client        *http.Client
	Logger        *slog.Logger
	MaxAttempts   int
	RetryInterval time.Duration
}

// HTTPCatalog talks to a remote catalog service. Reads retry on transport
// errors, 5xx, and 429; health writes are single-attempt because the monitor
// rewrites every row next cycle anyway.
type HTTPCatalog struct {
	baseURL       string
	token         string
	client        *http.Client
	logger        *slog.Logger
	maxAttempts   int
	retryInterval time.Duration
}

func NewHTTPCatalog(cfg HTTPCatalogConfig) (*HTTPCatalog, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("catalog base url required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultHTTPAttempts
	}
	interval := cfg.RetryInterval
	if interval < 0 {
		interval = defaultHTTPRetryInterval
	}
	return &HTTPCatalog{
		baseURL:       baseURL,
		token:         cfg.Token,
		client:        client,
		logger:        logger,
		maxAttempts:   attempts,
		retryInterval: interval,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("catalog returned status %d", e.code)
	}
	return fmt.Sprintf("catalog returned status %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*statusError); ok {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	// Transport-level failures are worth another attempt.
	return true
}

func notFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (c *HTTPCatalog) ListContentItems(ctx context.Context) ([]models.ContentItem, error) {
	var items []models.ContentItem
	if err := c.getJSON(ctx, c.baseURL+"/v1/content", &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPCatalog) GetContentItem(ctx context.Context, contentType models.ContentType, id string) (models.ContentItem, error) {
	var item models.ContentItem
	endpoint := fmt.Sprintf("%s/v1/content/%s/%s", c.baseURL, url.PathEscape(string(contentType)), url.PathEscape(id))
	if err := c.getJSON(ctx, endpoint, &item); err != nil {
		if notFound(err) {
			return models.ContentItem{}, ErrNotFound
		}
		return models.ContentItem{}, err
	}
	return item, nil
}

func (c *HTTPCatalog) ReplaceContentItems(ctx context.Context, items []models.ContentItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode content items: %w", err)
	}
	return c.do(ctx, http.MethodPut, c.baseURL+"/v1/content", payload, nil, 1)
}

func (c *HTTPCatalog) UpsertChannelHealth(ctx context.Context, health models.ChannelHealth) error {
	if strings.TrimSpace(health.ContentID) == "" {
		return fmt.Errorf("health contentId is required")
	}
	if !validHealthStatus(health.Status) {
		return fmt.Errorf("unknown health status %q", health.Status)
	}
	payload, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("encode health: %w", err)
	}
	endpoint := c.baseURL + "/v1/health/" + url.PathEscape(health.ContentID)
	return c.do(ctx, http.MethodPut, endpoint, payload, nil, 1)
}

func (c *HTTPCatalog) GetChannelHealth(ctx context.Context, contentID string) (models.ChannelHealth, error) {
	var health models.ChannelHealth
	endpoint := c.baseURL + "/v1/health/" + url.PathEscape(contentID)
	if err := c.getJSON(ctx, endpoint, &health); err != nil {
		if notFound(err) {
			return models.ChannelHealth{}, ErrNotFound
		}
		return models.ChannelHealth{}, err
	}
	return health, nil
}

func (c *HTTPCatalog) ListChannelHealth(ctx context.Context) ([]models.ChannelHealth, error) {
	var rows []models.ChannelHealth
	if err := c.getJSON(ctx, c.baseURL+"/v1/health", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Ping issues a single, unretried request so the health endpoint reflects
// the remote catalog's current state rather than the retry budget's.
func (c *HTTPCatalog) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/v1/health", nil, nil, 1)
}

func (c *HTTPCatalog) Close(_ context.Context) error {
	return nil
}

func (c *HTTPCatalog) getJSON(ctx context.Context, endpoint string, dest interface{}) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, dest, c.maxAttempts)
}

func (c *HTTPCatalog) do(ctx context.Context, method, endpoint string, payload []byte, dest interface{}, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		reqBody := io.Reader(nil)
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		setBearer(req, c.token)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastErr = consumeResponse(resp, dest)
		}
		if lastErr == nil {
			return nil
		}
		if attempt < attempts && retryable(lastErr) {
			c.logger.Warn("catalog request failed", "method", method, "url", endpoint, "attempt", attempt, "error", lastErr)
			if c.retryInterval > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.retryInterval):
				}
			} else {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			continue
		}
		break
	}
	return lastErr
}

func consumeResponse(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}

func setBearer(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

var _ Repository = (*HTTPCatalog)(nil)
