// Package adminapi provides a client for the admin service that owns the
// consulting category taxonomy.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/voc-classifier/internal/resilience"
)

const categoryPath = "/api/admin/consulting_category"

// ErrMalformed is returned when a 2xx response body cannot be read as a
// category listing.
var ErrMalformed = eris.New("adminapi: malformed response")

// Client defines the admin service operations.
type Client interface {
	// ListCategories returns the current consulting category listing.
	ListCategories(ctx context.Context) (*CategoryPage, error)
}

// CategoryPage is the data block of a category listing response.
type CategoryPage struct {
	Columns    []string      `json:"columns"`
	Rows       []CategoryRow `json:"rows"`
	TotalCount int           `json:"totalCount"`
}

// CategoryRow is one category as the admin service returns it.
type CategoryRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// APIError is returned when the admin service answers with a non-2xx status
// or with success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("adminapi: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("adminapi: request failed: %s", e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Option configures the admin client.
type Option func(*httpClient)

// WithBaseURL sets the admin service base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry retries transport failures and transient statuses (429, 5xx)
// according to cfg. Without it every call is made once.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		if cfg.OnRetry == nil {
			cfg.OnRetry = resilience.RetryLogger("adminapi", "list_categories")
		}
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new admin service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "http://admin-service:8080",
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: resilience.RetryConfig{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListCategories fetches the category listing. Transport failures are
// returned wrapped; non-2xx and success=false yield *APIError; unreadable
// bodies and a missing data block yield ErrMalformed.
func (c *httpClient) ListCategories(ctx context.Context) (*CategoryPage, error) {
	return resilience.DoVal(ctx, c.retry, c.listOnce)
}

func (c *httpClient) listOnce(ctx context.Context) (*CategoryPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+categoryPath, nil)
	if err != nil {
		return nil, eris.Wrap(err, "adminapi: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "adminapi: list categories")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "adminapi: read body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(ErrMalformed, "decode envelope: %v", err)
	}
	if !env.Success {
		return nil, &APIError{Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, eris.Wrap(ErrMalformed, "missing data")
	}

	var page CategoryPage
	if err := json.Unmarshal(env.Data, &page); err != nil {
		return nil, eris.Wrapf(ErrMalformed, "decode data: %v", err)
	}
	return &page, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
