package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HeadClient talks to a head server at a fixed base URL. It exists for
// processes that start with nothing but the head address: they fetch
// the resolved configuration and the live registry from it before any
// name-based resolution is possible.
type HeadClient struct {
	baseURL string
	http    *http.Client
}

// NewHeadClient builds a client for the head server at baseURL,
// e.g. "http://127.0.0.1:11000".
func NewHeadClient(baseURL string, cfg ClientConfig) *HeadClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: cfg.transport(),
			Timeout:   cfg.Timeout,
		}
	}
	return &HeadClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// FetchConfigYAML retrieves the head process's fully resolved
// configuration tree, ports included, as served at /v1/config.
func (c *HeadClient) FetchConfigYAML(ctx context.Context) ([]byte, error) {
	url := c.baseURL + "/v1/config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET %s: %w", url, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch configuration from %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read configuration from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, URL: url, Body: string(raw)}
	}
	return raw, nil
}

// FetchServices retrieves the live registration table, mapping service
// instance names to the base URLs they registered.
func (c *HeadClient) FetchServices(ctx context.Context) (map[string]string, error) {
	url := c.baseURL + "/v1/services"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch services from %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read services from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, URL: url, Body: string(raw)}
	}

	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode services from %s: %w", url, err)
	}
	return entries, nil
}

// RegisterService publishes a service's base URL in the head server's
// registry, the call a separately started service makes once it binds.
func (c *HeadClient) RegisterService(ctx context.Context, name, serviceURL string) error {
	url := c.baseURL + "/v1/services"
	payload, err := json.Marshal(map[string]string{"name": name, "base_url": serviceURL})
	if err != nil {
		return fmt.Errorf("encode registration for %s: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build POST %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("register %s with %s: %w", name, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read registration response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Status: resp.StatusCode, URL: url, Body: string(raw)}
	}
	return nil
}
