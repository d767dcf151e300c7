// Package rocregistry provides a client for state contractor licensing
// registry search endpoints (Registrar of Contractors style portals).
package rocregistry

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

// Client defines the registry operations.
type Client interface {
	// SearchByName looks up active licenses matching a business name.
	SearchByName(ctx context.Context, name string) ([]License, error)
}

// License is one registry hit. Website is the field we are actually after;
// the rest helps disambiguate common names.
type License struct {
	BusinessName  string `json:"business_name"`
	LicenseNumber string `json:"license_number"`
	Status        string `json:"status"`
	Website       string `json:"website"`
	Phone         string `json:"phone"`
	City          string `json:"city"`
	State         string `json:"state"`
}

type searchResponse struct {
	Results []License `json:"results"`
}

// Option configures the registry client.
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

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new registry client. baseURL points at the state
// portal's JSON search endpoint root.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SearchByName(ctx context.Context, name string) ([]License, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("status", "active")
	reqURL := fmt.Sprintf("%s/api/v1/contractors/search?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "rocregistry: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "rocregistry: request failed"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "rocregistry: read response body")
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("rocregistry: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("rocregistry: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "rocregistry: unmarshal response")
	}
	return parsed.Results, nil
}
