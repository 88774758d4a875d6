package v2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HeaderApplicationKey carries the credential on every authenticated request.
const HeaderApplicationKey = "hue-application-key"

// Client provides access to Hue V2 API (CLIP API).
// This client is HTTP-only with no caching - pure transport layer.
type Client struct {
	address    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new V2 API client.
// The httpClient should have TLS verification disabled for Hue bridge's self-signed cert.
func NewClient(address, token string, httpClient *http.Client) *Client {
	return &Client{
		address:    address,
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("https://%s/clip/v2/%s", c.address, path)
}

// Request performs an HTTP request to the V2 API.
// The caller owns the response body.
func (c *Client) Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderApplicationKey, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// ListLights requests the light collection.
func (c *Client) ListLights(ctx context.Context) (*http.Response, error) {
	return c.Request(ctx, http.MethodGet, "resource/light", nil)
}

// UpdateLight sends a partial light update.
func (c *Client) UpdateLight(ctx context.Context, lightID string, update LightUpdate) (*http.Response, error) {
	bodyBytes, err := json.Marshal(update)
	if err != nil {
		return nil, err
	}

	path := "resource/light/" + url.PathEscape(lightID)
	return c.Request(ctx, http.MethodPut, path, bytes.NewReader(bodyBytes))
}
