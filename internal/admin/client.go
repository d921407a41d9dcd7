// Package admin provides an HTTP client for the user-management API, used
// by the operator CLI.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/webuildtrades/postcode-lookup/internal/account"
	"github.com/webuildtrades/postcode-lookup/internal/apikey"
)

// APIError is a non-2xx response from the management API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// APIClient handles communication with the management API.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPIClient creates a management API client. token is either the
// management token or an administrator's session token.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type usersResponse struct {
	Users []apikey.Profile `json:"users"`
}

// ListUsers returns every profile, newest first.
func (c *APIClient) ListUsers(ctx context.Context) ([]apikey.Profile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/manage/users", nil)
	if err != nil {
		return nil, err
	}
	var resp usersResponse
	if err := c.doRequest(req, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// GetUser returns one profile.
func (c *APIClient) GetUser(ctx context.Context, id string) (*apikey.Profile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/manage/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var p apikey.Profile
	if err := c.doRequest(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RegisterUser creates a profile.
func (c *APIClient) RegisterUser(ctx context.Context, reg account.Registration) (*apikey.Profile, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/manage/users", reg)
	if err != nil {
		return nil, err
	}
	var p apikey.Profile
	if err := c.doRequest(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetRateLimit changes a profile's rate limit. 0 means unlimited.
func (c *APIClient) SetRateLimit(ctx context.Context, id string, limit int) (*apikey.Profile, error) {
	body := map[string]int{"rateLimit": limit}
	req, err := c.newRequest(ctx, http.MethodPut, "/manage/users/"+url.PathEscape(id), body)
	if err != nil {
		return nil, err
	}
	var p apikey.Profile
	if err := c.doRequest(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteUser removes a profile and its usage history.
func (c *APIClient) DeleteUser(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/manage/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, nil)
}

// newRequest creates an authenticated request.
func (c *APIClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doRequest executes req and decodes a JSON response into result.
func (c *APIClient) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err == nil {
			apiErr.Message = errorResp.Error
		}
		return apiErr
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
