package provider

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/webuildtrades/postcode-lookup/internal/metrics"
)

// maxBodySize caps provider response bodies.
const maxBodySize = 4 << 20

// httpClient is the shared transport for provider clients.
type httpClient struct {
	name    string
	client  *http.Client
	metrics *metrics.Metrics
}

func newHTTPClient(name string, timeout time.Duration, m *metrics.Metrics) httpClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return httpClient{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

// getJSON performs a GET and decodes the body into out. The status code is
// returned together with any transport or decode error; callers decide what
// a non-2xx status means. Error statuses decode best-effort so a plain-text
// 404 or 429 from a gateway still reaches the caller's status mapping.
func (c httpClient) getJSON(ctx context.Context, operation, url string, out any) (int, error) {
	start := time.Now()
	status, err := c.doGetJSON(ctx, url, out)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case status >= 400:
		outcome = fmt.Sprintf("http_%d", status)
	}
	c.metrics.RecordProviderCall(c.name, operation, outcome, time.Since(start))
	return status, err
}

func (c httpClient) doGetJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// Setting Accept-Encoding ourselves disables net/http's transparent gzip.
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &UpstreamError{Provider: c.name, Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	failed := resp.StatusCode >= http.StatusBadRequest

	body, err := decodeBody(resp)
	if err != nil {
		if failed {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	defer func() { _ = body.Close() }()

	if err := json.NewDecoder(io.LimitReader(body, maxBodySize)).Decode(out); err != nil && err != io.EOF && !failed {
		return resp.StatusCode, &UpstreamError{Provider: c.name, Status: resp.StatusCode, Message: "invalid JSON body"}
	}
	return resp.StatusCode, nil
}

// decodeBody unwraps brotli or gzip content encodings.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}
