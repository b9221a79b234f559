// Package transport provides the typed HTTP client used for all
// service-to-service traffic: agent to model service, agent to resource
// service, and CLI to head server.
//
// Callers address services by logical name through a resolver rather
// than by URL, so the wiring between components lives entirely in
// configuration. All clients share one pooled HTTP transport with
// explicit connection caps, keeping socket usage bounded under
// high-concurrency collection runs.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ahrav/go-rollouts/internal/ports"
)

const (
	defaultMaxIdleConns        = 256
	defaultMaxIdleConnsPerHost = 64
	defaultMaxConnsPerHost     = 128
)

// sharedTransport is the process-wide connection pool. Every Client
// built by NewClient rides on it unless the config supplies its own
// http.Client, so total connection counts stay bounded regardless of
// how many service clients exist.
var sharedTransport = &http.Transport{
	MaxIdleConns:        defaultMaxIdleConns,
	MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	MaxConnsPerHost:     defaultMaxConnsPerHost,
	IdleConnTimeout:     90 * time.Second,
}

// HTTPError reports a non-2xx response. The status code and response
// body are preserved so callers can distinguish, say, a 404 from a
// resource server (unknown tool) from a 503 (not ready).
type HTTPError struct {
	Status int
	URL    string
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("http %d from %s: %s", e.Status, e.URL, body)
}

// ClientConfig holds construction options for a service client.
type ClientConfig struct {
	// Timeout bounds each request end to end. Zero means no client-side
	// timeout; callers then rely on context deadlines.
	Timeout time.Duration

	// MaxIdleConns, MaxIdleConnsPerHost, and MaxConnsPerHost tune the
	// connection pool. Zero values take the process-wide defaults; any
	// nonzero value gives the client its own pool so the tuning does
	// not leak into other clients.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int

	// HTTPClient overrides the shared pooled client, mainly for tests.
	HTTPClient *http.Client
}

// transport picks the connection pool for this config: the shared
// process-wide pool unless a cap is overridden.
func (cfg ClientConfig) transport() *http.Transport {
	if cfg.MaxIdleConns == 0 && cfg.MaxIdleConnsPerHost == 0 && cfg.MaxConnsPerHost == 0 {
		return sharedTransport
	}
	t := sharedTransport.Clone()
	if cfg.MaxIdleConns > 0 {
		t.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost > 0 {
		t.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	return t
}

// Client performs JSON requests against services addressed by logical
// (category, name) identity. Resolution happens per call, so a service
// re-registered at a new endpoint is picked up without rebuilding the
// client.
type Client struct {
	resolver ports.ServiceResolver
	http     *http.Client
}

// NewClient builds a client over the given resolver.
func NewClient(resolver ports.ServiceResolver, cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: cfg.transport(),
			Timeout:   cfg.Timeout,
		}
	}
	return &Client{resolver: resolver, http: httpClient}
}

// PostJSON sends body as JSON to path on the named service and decodes
// the JSON response into out. out may be nil to discard the body.
// Failures carry enough identity (service, path, status) to be
// actionable without a debugger.
func (c *Client) PostJSON(ctx context.Context, category, name, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request for %s/%s%s: %w", category, name, path, err)
	}
	return c.do(ctx, http.MethodPost, category, name, path, payload, out)
}

// GetJSON fetches path on the named service and decodes the JSON
// response into out.
func (c *Client) GetJSON(ctx context.Context, category, name, path string, out any) error {
	return c.do(ctx, http.MethodGet, category, name, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, category, name, path string, payload []byte, out any) error {
	base, err := c.resolver.Resolve(category, name)
	if err != nil {
		return fmt.Errorf("resolve %s/%s: %w", category, name, err)
	}
	url := joinURL(base, path)

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, url, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s/%s%s: %w", method, category, name, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, URL: url, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
