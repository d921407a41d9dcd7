// Package client provides an HTTP client for the postcode lookup API and an
// interactive search prompt built on it.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/webuildtrades/postcode-lookup/internal/lookup"
)

// Messages shown to end users for failed lookups.
const (
	MessageRateLimited = "Rate limit exceeded. Please sign up for full access."
	MessageNotFound    = "Postcode not found"
	MessageGeneric     = "Error fetching postcode data"
)

// Error is a failed lookup.
type Error struct {
	StatusCode int
	// ServerMessage is the error text returned by the API, if any.
	ServerMessage string
}

func (e *Error) Error() string {
	if e.ServerMessage != "" {
		return fmt.Sprintf("lookup failed (%d): %s", e.StatusCode, e.ServerMessage)
	}
	return fmt.Sprintf("lookup failed: %d", e.StatusCode)
}

// UserMessage is the text to display for this failure.
func (e *Error) UserMessage() string {
	return UserMessage(e.StatusCode)
}

// UserMessage maps a response status to the text shown to end users.
func UserMessage(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return MessageRateLimited
	case http.StatusNotFound:
		return MessageNotFound
	default:
		return MessageGeneric
	}
}

// Client calls the lookup endpoints with an API key.
type Client struct {
	baseURL    string
	apiKey     string
	origin     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithOrigin sends an Origin header, for keys restricted to allowed domains.
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = origin }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a lookup client.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns the address summaries near postcode.
func (c *Client) Search(ctx context.Context, postcode string) (*lookup.SearchResponse, error) {
	var resp lookup.SearchResponse
	if err := c.get(ctx, "/api/postcodes/"+url.PathEscape(postcode), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Location geocodes postcode.
func (c *Client) Location(ctx context.Context, postcode string) (*lookup.Coordinates, error) {
	var resp lookup.LocationResponse
	if err := c.get(ctx, "/api/postcodes/"+url.PathEscape(postcode)+"/location", &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// Autocomplete returns postcodes starting with partial.
func (c *Client) Autocomplete(ctx context.Context, partial string) ([]string, error) {
	var resp lookup.AutocompleteResponse
	if err := c.get(ctx, "/api/postcodes/"+url.PathEscape(partial)+"/autocomplete", &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		lerr := &Error{StatusCode: resp.StatusCode}
		var body lookup.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			lerr.ServerMessage = body.Error
		}
		return lerr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
