// Package market pulls item quotes from external marketplace feeds and
// wraps them with retry and circuit breaking.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// ClientConfig describes one marketplace feed.
type ClientConfig struct {
	Name    string
	BaseURL string
	Path    string
	APIKey  string
	Timeout time.Duration
}

// Client is a REST client for a marketplace price feed. The feed answers
// GET {base_url}{path} with a JSON array of quotes.
type Client struct {
	name       string
	baseURL    string
	path       string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a feed client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		path:    cfg.Path,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the configured source name.
func (c *Client) Name() string { return c.name }

// apiQuote is the wire shape of one feed entry. raw_price may be a JSON
// number or a decimal string.
type apiQuote struct {
	ItemKey  string          `json:"item_key"`
	RawPrice decimal.Decimal `json:"raw_price"`
	Currency string          `json:"currency"`
	Name     string          `json:"name,omitempty"`
	Image    string          `json:"image,omitempty"`
}

// FetchQuotes returns the feed's current quotes.
func (c *Client) FetchQuotes(ctx context.Context) ([]domain.RawQuote, error) {
	body, err := c.doGet(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("market/%s: fetch quotes: %w", c.name, err)
	}

	var apiQuotes []apiQuote
	if err := json.Unmarshal(body, &apiQuotes); err != nil {
		return nil, fmt.Errorf("market/%s: decode quotes: %w", c.name, err)
	}

	quotes := make([]domain.RawQuote, 0, len(apiQuotes))
	for _, q := range apiQuotes {
		quotes = append(quotes, domain.RawQuote{
			ItemKey:  q.ItemKey,
			RawPrice: q.RawPrice,
			Currency: q.Currency,
			Name:     q.Name,
			Image:    q.Image,
		})
	}
	return quotes, nil
}

// doGet sends a GET request to the feed.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// APIError is a non-2xx response from a feed.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses onto domain errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	}
	return nil
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// checkHTTPStatus turns non-2xx responses into an *APIError.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &APIError{StatusCode: statusCode, Body: string(body)}
}

// isRetryable classifies a fetch error. Transport failures are retried;
// cancellation and client errors are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	return true
}

var _ domain.QuoteSource = (*Client)(nil)
