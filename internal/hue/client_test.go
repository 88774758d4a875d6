package hue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestBridge starts a TLS server and a Client pointed at it. The returned
// address is usable as a bridge address and the discovery URL is the server root.
func newTestBridge(t *testing.T, handler http.HandlerFunc) (*Client, string) {
	t.Helper()

	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		DiscoveryURL: srv.URL + "/",
		HTTPClient:   srv.Client(),
	})
	return c, srv.Listener.Addr().String()
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})

	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
	if c.discoveryURL != DefaultDiscoveryURL {
		t.Errorf("discovery url = %q", c.discoveryURL)
	}
	if c.limiter != nil {
		t.Error("limiter should be nil when no rate limit is configured")
	}

	transport, ok := c.httpClient.Transport.(*http.Transport)
	if !ok || transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Error("default transport must skip TLS verification for the bridge's self-signed cert")
	}

	c = NewClient(Config{Timeout: 3 * time.Second, RateLimitRPS: 0.5})
	if c.httpClient.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", c.httpClient.Timeout)
	}
	if c.limiter == nil || c.limiter.Burst() != 1 {
		t.Error("fractional rate limit should still allow a burst of 1")
	}
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr func(error) bool
	}{
		{
			name: "single_bridge",
			body: `[{"internalipaddress":"10.0.0.5"}]`,
			want: "10.0.0.5",
		},
		{
			name: "first_of_many",
			body: `[{"id":"a","internalipaddress":"10.0.0.5","port":443},{"internalipaddress":"10.0.0.6"}]`,
			want: "10.0.0.5",
		},
		{
			name:    "empty_array",
			body:    `[]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrNotFound) },
		},
		{
			name:    "missing_field",
			body:    `[{"id":"abc"}]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrNotFound) },
		},
		{
			name:    "wrong_type",
			body:    `[{"internalipaddress":5}]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrNotFound) },
		},
		{
			name:    "not_json",
			body:    `<html>rate limited</html>`,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:    "object_instead_of_array",
			body:    `{"internalipaddress":"10.0.0.5"}`,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:    "http_error",
			status:  http.StatusTooManyRequests,
			body:    `{"error":"slow down"}`,
			wantErr: func(err error) bool { var ae *APIError; return errors.As(err, &ae) && ae.Status == 429 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %s, want GET", r.Method)
				}
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				io.WriteString(w, tt.body)
			})

			got, err := c.Discover(context.Background())
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("Discover() error = %v, unexpected", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Discover() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Discover() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiscover_NetworkError(t *testing.T) {
	srv := httptest.NewTLSServer(respond(`[]`))
	url := srv.URL
	client := srv.Client()
	srv.Close()

	c := NewClient(Config{DiscoveryURL: url, HTTPClient: client})
	_, err := c.Discover(context.Background())

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("network errors are not retryable by the caller contract")
	}
}

func TestPair(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCred string
		wantErr  func(error) bool
	}{
		{
			name:     "success",
			body:     `[{"success":{"username":"abc123"}}]`,
			wantCred: "abc123",
		},
		{
			name:    "link_button",
			body:    `[{"error":{"type":101,"address":"","description":"link button not pressed"}}]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrLinkButtonNotPressed) },
		},
		{
			name:    "other_bridge_error",
			body:    `[{"error":{"type":7,"description":"invalid value"}}]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidResponse) },
		},
		{
			name:    "success_without_username",
			body:    `[{"success":{}}]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidResponse) },
		},
		{
			name:    "username_wrong_type",
			body:    `[{"success":{"username":42}}]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidResponse) },
		},
		{
			name:    "neither",
			body:    `[{}]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidResponse) },
		},
		{
			name:    "empty_array",
			body:    `[]`,
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidResponse) },
		},
		{
			name:    "malformed",
			body:    `[{"success":`,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api" {
					t.Errorf("request = %s %s, want POST /api", r.Method, r.URL.Path)
				}
				io.WriteString(w, tt.body)
			})

			ep, err := c.Pair(context.Background(), address)
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("Pair() error = %v, unexpected", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Pair() unexpected error: %v", err)
			}
			if ep.Credential != tt.wantCred || ep.Address != address {
				t.Errorf("Pair() = %+v, want credential %q at %q", ep, tt.wantCred, address)
			}
		})
	}
}

func TestPair_LinkButtonIsRetryable(t *testing.T) {
	calls := 0
	c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			io.WriteString(w, `[{"error":{"type":101}}]`)
			return
		}
		io.WriteString(w, `[{"success":{"username":"granted"}}]`)
	})

	_, err := c.Pair(context.Background(), address)
	if !IsRetryable(err) {
		t.Fatalf("first Pair() error = %v, want retryable", err)
	}

	ep, err := c.Pair(context.Background(), address)
	if err != nil {
		t.Fatalf("second Pair() error = %v", err)
	}
	if ep.Credential != "granted" {
		t.Errorf("credential = %q, want granted", ep.Credential)
	}
}

func TestPair_DeviceTypeUnique(t *testing.T) {
	var seen []string
	c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DeviceType string `json:"devicetype"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode pair body: %v", err)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		seen = append(seen, req.DeviceType)
		io.WriteString(w, `[{"error":{"type":101}}]`)
	})

	for i := 0; i < 2; i++ {
		c.Pair(context.Background(), address)
	}

	if len(seen) != 2 {
		t.Fatalf("got %d pair requests, want 2", len(seen))
	}
	if seen[0] == seen[1] {
		t.Errorf("devicetype reused across pair attempts: %q", seen[0])
	}
	for _, dt := range seen {
		if !strings.HasPrefix(dt, DefaultDeviceType+"#") {
			t.Errorf("devicetype %q missing %q prefix", dt, DefaultDeviceType)
		}
		if len(dt) > 40 {
			t.Errorf("devicetype %q longer than 40 chars", dt)
		}
	}
}

const lightsBody = `{
  "errors": [],
  "data": [
    {
      "id": "11111111-aaaa",
      "type": "light",
      "metadata": {"name": "Desk", "archetype": "sultan_bulb"},
      "on": {"on": true},
      "dimming": {"brightness": 62.5, "min_dim_level": 0.2},
      "color": {"xy": {"x": 0.4573, "y": 0.41}, "gamut_type": "C"}
    },
    {
      "id": "22222222-bbbb",
      "metadata": {"archetype": "sultan_bulb"},
      "on": {"on": false},
      "dimming": {"brightness": 10, "min_dim_level": 2},
      "color": {"xy": {"x": 0.3, "y": 0.3}}
    }
  ]
}`

func TestListLights(t *testing.T) {
	c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/clip/v2/resource/light" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("hue-application-key"); got != "secret-key" {
			t.Errorf("hue-application-key = %q", got)
		}
		if strings.Contains(r.URL.String(), "secret-key") {
			t.Error("credential leaked into URL")
		}
		io.WriteString(w, lightsBody)
	})

	lights, err := c.ListLights(context.Background(), NewEndpoint(address, "secret-key"))
	if err != nil {
		t.Fatalf("ListLights() error = %v", err)
	}
	if len(lights) != 1 {
		t.Fatalf("ListLights() returned %d lights, want 1", len(lights))
	}

	l := lights[0]
	if l.ID != "11111111-aaaa" || l.Name != "Desk" || !l.IsOn {
		t.Errorf("light = %+v", l)
	}
	if l.Brightness != 62.5 || l.MinBrightness != 0.2 {
		t.Errorf("dimming = %v / %v", l.Brightness, l.MinBrightness)
	}
	if l.Color.X != 0.4573 || l.Color.Y != 0.41 || l.Color.Brightness != 62.5 {
		t.Errorf("color = %+v", l.Color)
	}
}

func TestListLights_SkipsIncompleteEntries(t *testing.T) {
	full := `{"id":"ok","metadata":{"name":"n"},"on":{"on":true},"dimming":{"brightness":5,"min_dim_level":1},"color":{"xy":{"x":0.1,"y":0.2}}}`
	entries := []string{
		full,
		`{"metadata":{"name":"n"},"on":{"on":true},"dimming":{"brightness":5,"min_dim_level":1},"color":{"xy":{"x":0.1,"y":0.2}}}`,
		`{"id":"a","metadata":{"name":"n"},"dimming":{"brightness":5,"min_dim_level":1},"color":{"xy":{"x":0.1,"y":0.2}}}`,
		`{"id":"b","metadata":{"name":"n"},"on":{"on":true},"dimming":{"min_dim_level":1},"color":{"xy":{"x":0.1,"y":0.2}}}`,
		`{"id":"c","metadata":{"name":"n"},"on":{"on":true},"dimming":{"brightness":5},"color":{"xy":{"x":0.1,"y":0.2}}}`,
		`{"id":"d","metadata":{"name":"plug"},"on":{"on":true}}`,
		`{"id":"e","metadata":{"name":"n"},"on":{"on":true},"dimming":{"brightness":5,"min_dim_level":1},"color":{"xy":{"y":0.2}}}`,
		`{"id":"f","metadata":{"name":"n"},"on":{"on":true},"dimming":{"brightness":5,"min_dim_level":1},"color":{"xy":{"x":0.1}}}`,
		`{"id":"g","metadata":{"name":"n"},"on":{"on":"yes"},"dimming":{"brightness":5,"min_dim_level":1},"color":{"xy":{"x":0.1,"y":0.2}}}`,
		`"not an object"`,
		`null`,
	}
	body := `{"data":[` + strings.Join(entries, ",") + `]}`

	c, address := newTestBridge(t, respond(body))
	lights, err := c.ListLights(context.Background(), NewEndpoint(address, "k"))
	if err != nil {
		t.Fatalf("ListLights() error = %v", err)
	}
	if len(lights) != 1 || lights[0].ID != "ok" {
		t.Errorf("ListLights() = %+v, want only the complete entry", lights)
	}
}

func TestListLights_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(error) bool
	}{
		{
			name:    "missing_data",
			body:    `{"errors":[]}`,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:    "data_not_array",
			body:    `{"data":{"id":"x"}}`,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:    "not_json",
			body:    `oops`,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:   "unauthorized_without_data",
			status: http.StatusForbidden,
			body:   `{"errors":[{"description":"unauthorized user"}]}`,
			wantErr: func(err error) bool {
				var ae *APIError
				return errors.As(err, &ae) && ae.Status == 403 &&
					len(ae.Descriptions) == 1 && ae.Descriptions[0] == "unauthorized user"
			},
		},
		{
			name:    "gateway_plain_text",
			status:  http.StatusBadGateway,
			body:    `bad gateway`,
			wantErr: func(err error) bool { var ae *APIError; return errors.As(err, &ae) && ae.Status == 502 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				io.WriteString(w, tt.body)
			})

			_, err := c.ListLights(context.Background(), NewEndpoint(address, "k"))
			if err == nil || !tt.wantErr(err) {
				t.Errorf("ListLights() error = %v, unexpected", err)
			}
		})
	}
}

func TestListLights_EmptyData(t *testing.T) {
	c, address := newTestBridge(t, respond(`{"errors":[],"data":[]}`))

	lights, err := c.ListLights(context.Background(), NewEndpoint(address, "k"))
	if err != nil {
		t.Fatalf("ListLights() error = %v", err)
	}
	if len(lights) != 0 {
		t.Errorf("got %d lights, want 0", len(lights))
	}
}

func TestListLights_DataDecidesOverStatus(t *testing.T) {
	full := `{"id":"ok","metadata":{"name":"n"},"on":{"on":true},"dimming":{"brightness":5,"min_dim_level":1},"color":{"xy":{"x":0.1,"y":0.2}}}`

	tests := []struct {
		name   string
		status int
		body   string
		want   int
	}{
		{"forbidden_empty_data", http.StatusForbidden, `{"errors":[{"description":"unauthorized user"}],"data":[]}`, 0},
		{"server_error_with_light", http.StatusInternalServerError, `{"errors":[{"description":"partial"}],"data":[` + full + `]}`, 1},
		{"multi_status", http.StatusMultiStatus, `{"data":[` + full + `]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			lights, err := c.ListLights(context.Background(), NewEndpoint(address, "k"))
			if err != nil {
				t.Fatalf("ListLights() error = %v, want nil", err)
			}
			if len(lights) != tt.want {
				t.Errorf("got %d lights, want %d", len(lights), tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	var gotBody map[string]any
	c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/clip/v2/resource/light/light-7" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("hue-application-key"); got != "secret-key" {
			t.Errorf("hue-application-key = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		io.WriteString(w, `{"data":[{"rid":"light-7","rtype":"light"}],"errors":[]}`)
	})

	tx := ColorAndBrightness("light-7", nil, floatPtr(50), floatPtr(2))
	if err := c.Apply(context.Background(), NewEndpoint(address, "secret-key"), tx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	dimming, ok := gotBody["dimming"].(map[string]any)
	if !ok || dimming["brightness"] != 50.0 {
		t.Errorf("body = %v, want dimming.brightness 50", gotBody)
	}
	if _, ok := gotBody["on"]; ok {
		t.Error("body should not contain on")
	}
}

func TestApply_EmptyTransaction(t *testing.T) {
	var raw []byte
	c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"data":[],"errors":[]}`)
	})

	tx := ColorAndBrightness("x", nil, floatPtr(1000), nil)
	if err := c.Apply(context.Background(), NewEndpoint(address, "k"), tx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if string(raw) != "{}" {
		t.Errorf("body = %s, want {}", raw)
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(error) bool
	}{
		{
			name:    "not_json",
			body:    `done`,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:    "empty_body",
			body:    ``,
			wantErr: func(err error) bool { var pe *ParseError; return errors.As(err, &pe) },
		},
		{
			name:    "not_found_plain_text",
			status:  http.StatusNotFound,
			body:    `not found`,
			wantErr: func(err error) bool { var ae *APIError; return errors.As(err, &ae) && len(ae.Descriptions) == 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				io.WriteString(w, tt.body)
			})

			err := c.Apply(context.Background(), NewEndpoint(address, "k"), Power("x", true))
			if err == nil || !tt.wantErr(err) {
				t.Errorf("Apply() error = %v, unexpected", err)
			}
		})
	}
}

func TestApply_AnyJSONAnswerSucceeds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bridge_reports_errors", http.StatusBadRequest, `{"data":[],"errors":[{"description":"device (light) is \"soft off\", command (.dimming.brightness) may not have effect"}]}`},
		{"not_found_envelope", http.StatusNotFound, `{"errors":[{"description":"resource not found"}],"data":[]}`},
		{"unexpected_shape", http.StatusOK, `[1,2,3]`},
		{"bare_value", http.StatusOK, `true`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			if err := c.Apply(context.Background(), NewEndpoint(address, "k"), Power("x", true)); err != nil {
				t.Errorf("Apply() error = %v, want nil", err)
			}
		})
	}
}

func TestApply_CancelledCallReleases(t *testing.T) {
	release := make(chan struct{})
	c, address := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Apply(ctx, NewEndpoint(address, "k"), Power("x", true))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		var ne *NetworkError
		if !errors.As(err, &ne) || !errors.Is(err, context.Canceled) {
			t.Errorf("Apply() error = %v, want NetworkError wrapping context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Apply() did not return after cancellation")
	}
}

func TestRateLimit_RespectsContext(t *testing.T) {
	c, address := newTestBridge(t, respond(`{"data":[]}`))
	c.limiter = NewClient(Config{RateLimitRPS: 0.1}).limiter

	ep := NewEndpoint(address, "k")
	if _, err := c.ListLights(context.Background(), ep); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ListLights(ctx, ep)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Errorf("second call error = %v, want NetworkError from limiter", err)
	}
}

func TestEndpoint(t *testing.T) {
	ep := NewEndpoint("10.0.0.5", "secret")
	if ep.IsZero() {
		t.Error("complete endpoint reported as zero")
	}
	if strings.Contains(ep.String(), "secret") {
		t.Error("String() must not include the credential")
	}
	if !(Endpoint{Address: "10.0.0.5"}).IsZero() {
		t.Error("endpoint without credential should be zero")
	}
}
