// Package millionverifier provides a client for the MillionVerifier
// single-email verification API.
package millionverifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dark30-ventures/intent-cli/internal/resilience"
)

// Client defines the MillionVerifier operations.
type Client interface {
	// Verify checks a single email address.
	Verify(ctx context.Context, email string) (*Result, error)
	// Credits returns the remaining API credit balance.
	Credits(ctx context.Context) (int, error)
}

// Result is the parsed verification response. Raw keeps the exact API
// payload for audit storage.
type Result struct {
	Email         string `json:"email"`
	Quality       string `json:"quality"`
	ResultText    string `json:"result"`
	ResultCode    int    `json:"resultcode"`
	Subresult     string `json:"subresult"`
	Free          bool   `json:"free"`
	Role          bool   `json:"role"`
	Credits       int    `json:"credits"`
	ExecutionTime int    `json:"executiontime"`
	APIError      string `json:"error"`

	Raw json.RawMessage `json:"-"`
}

type creditsResponse struct {
	Credits int `json:"credits"`
}

// Option configures the MillionVerifier client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeoutSecs sets the upstream verification timeout parameter.
func WithTimeoutSecs(secs int) Option {
	return func(c *httpClient) {
		c.timeoutSecs = secs
	}
}

type httpClient struct {
	apiKey      string
	baseURL     string
	timeoutSecs int
	http        *http.Client
}

// NewClient creates a new MillionVerifier client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     "https://api.millionverifier.com",
		timeoutSecs: 20,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify performs a single verification request. Network failures and
// retryable statuses come back as transient errors so the caller's retry
// policy can distinguish them from hard API rejections.
func (c *httpClient) Verify(ctx context.Context, email string) (*Result, error) {
	q := url.Values{}
	q.Set("api", c.apiKey)
	q.Set("email", email)
	q.Set("timeout", fmt.Sprintf("%d", c.timeoutSecs))
	reqURL := fmt.Sprintf("%s/api/v3/?%s", c.baseURL, q.Encode())

	body, status, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("millionverifier: unexpected status %d: %s", status, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "millionverifier: unmarshal response")
	}
	if result.APIError != "" {
		return nil, eris.Errorf("millionverifier: api error: %s", result.APIError)
	}
	result.Raw = json.RawMessage(body)
	return &result, nil
}

func (c *httpClient) Credits(ctx context.Context) (int, error) {
	q := url.Values{}
	q.Set("api", c.apiKey)
	reqURL := fmt.Sprintf("%s/api/v3/credits?%s", c.baseURL, q.Encode())

	body, status, err := c.get(ctx, reqURL)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, eris.Errorf("millionverifier: unexpected status %d: %s", status, string(body))
	}

	var resp creditsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, eris.Wrap(err, "millionverifier: unmarshal credits")
	}
	return resp.Credits, nil
}

func (c *httpClient) get(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "millionverifier: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, resilience.NewTransientError(eris.Wrap(err, "millionverifier: request failed"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "millionverifier: read response body")
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resp.StatusCode, resilience.NewTransientError(
			eris.Errorf("millionverifier: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}
