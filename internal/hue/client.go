package hue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	v2 "github.com/dokzlo13/huey/internal/hue/v2"
)

const (
	// DefaultDiscoveryURL is the public bridge discovery service.
	DefaultDiscoveryURL = "https://discovery.meethue.com/"

	// DefaultTimeout bounds every request so an unreachable bridge cannot hang a caller.
	DefaultTimeout = 10 * time.Second

	// DefaultDeviceType prefixes the devicetype sent while pairing.
	DefaultDeviceType = "huey"

	maxBodySize = 4 << 20
)

// Config controls how a Client talks to bridges.
type Config struct {
	Timeout      time.Duration // Per-request timeout (default: 10s)
	DiscoveryURL string        // Discovery endpoint (default: DefaultDiscoveryURL)
	DeviceType   string        // Application name sent while pairing (default: "huey")
	RateLimitRPS float64       // Max requests per second, 0 = unlimited
	HTTPClient   *http.Client  // Overrides the default insecure client; Timeout is ignored when set
}

// Client performs discovery, pairing, light enumeration and transaction
// dispatch. It holds no per-bridge state: the Endpoint is passed to every
// authenticated call, so one Client may serve any number of goroutines.
type Client struct {
	httpClient   *http.Client
	discoveryURL string
	deviceType   string
	limiter      *rate.Limiter
}

// NewClient creates a new Hue client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DiscoveryURL == "" {
		cfg.DiscoveryURL = DefaultDiscoveryURL
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = DefaultDeviceType
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// The bridge serves a self-signed certificate on the local network,
		// so verification is deliberately disabled for every request.
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		httpClient:   httpClient,
		discoveryURL: cfg.DiscoveryURL,
		deviceType:   cfg.DeviceType,
		limiter:      limiter,
	}
}

// Close closes idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) clip(ep Endpoint) *v2.Client {
	return v2.NewClient(ep.Address, ep.Credential, c.httpClient)
}

func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	return nil
}

// do sends req (built lazily so the limiter wait happens first) and returns
// the status code and body. Transport and read failures become NetworkError.
func (c *Client) do(ctx context.Context, op string, send func() (*http.Response, error)) (int, []byte, error) {
	if err := c.wait(ctx, op); err != nil {
		return 0, nil, err
	}

	resp, err := send()
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Op: op, Err: err}
	}

	log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Bridge response")

	return resp.StatusCode, body, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req)
	}
}

func statusOK(status int) bool {
	return status >= 200 && status < 300
}

// apiError builds an APIError from a CLIP error envelope when the body has one.
func apiError(op string, status int, body []byte) error {
	var envelope struct {
		Errors []v2.Error `json:"errors"`
	}
	apiErr := &APIError{Op: op, Status: status}
	if json.Unmarshal(body, &envelope) == nil {
		for _, e := range envelope.Errors {
			apiErr.Descriptions = append(apiErr.Descriptions, e.Description)
		}
	}
	return apiErr
}

// warnBridgeErrors logs the descriptions of a CLIP "errors" array that came
// with an answer the caller still accepts.
func warnBridgeErrors(op string, status int, lightID string, errs []v2.Error) {
	for _, e := range errs {
		log.Warn().
			Str("op", op).
			Int("status", status).
			Str("light", lightID).
			Str("description", e.Description).
			Msg("Bridge reported an error")
	}
}

func bridgeURL(address, path string) string {
	return fmt.Sprintf("https://%s/%s", address, path)
}
