package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type pairRequest struct {
	DeviceType string `json:"devicetype"`
}

type pairResult struct {
	Success *struct {
		Username *string `json:"username"`
	} `json:"success"`
	Error *struct {
		Type        int    `json:"type"`
		Description string `json:"description"`
	} `json:"error"`
}

// Pair registers a new application on the bridge at address and returns the
// resulting endpoint. Until the bridge's link button has been pressed it
// fails with ErrLinkButtonNotPressed; callers prompt the user and call Pair
// again. Pair itself never retries.
func (c *Client) Pair(ctx context.Context, address string) (Endpoint, error) {
	const op = "pair"

	payload, err := json.Marshal(pairRequest{DeviceType: c.newDeviceType()})
	if err != nil {
		return Endpoint{}, err
	}

	url := bridgeURL(address, "api")
	status, body, err := c.do(ctx, op, c.newRequest(ctx, http.MethodPost, url, bytes.NewReader(payload)))
	if err != nil {
		return Endpoint{}, err
	}

	var results []json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		if !statusOK(status) {
			return Endpoint{}, apiError(op, status, body)
		}
		return Endpoint{}, &ParseError{Op: op, Err: err}
	}
	if len(results) == 0 {
		return Endpoint{}, fmt.Errorf("%s: empty result: %w", op, ErrInvalidResponse)
	}

	var first pairResult
	if err := json.Unmarshal(results[0], &first); err != nil {
		return Endpoint{}, fmt.Errorf("%s: %v: %w", op, err, ErrInvalidResponse)
	}

	switch {
	case first.Success != nil:
		if first.Success.Username == nil || *first.Success.Username == "" {
			return Endpoint{}, fmt.Errorf("%s: success without username: %w", op, ErrInvalidResponse)
		}
		log.Info().Str("address", address).Msg("Paired with bridge")
		return NewEndpoint(address, *first.Success.Username), nil

	case first.Error != nil && first.Error.Type == linkButtonErrorType:
		return Endpoint{}, ErrLinkButtonNotPressed

	case first.Error != nil:
		return Endpoint{}, fmt.Errorf("%s: bridge error %d (%s): %w",
			op, first.Error.Type, first.Error.Description, ErrInvalidResponse)

	default:
		return Endpoint{}, fmt.Errorf("%s: neither success nor error: %w", op, ErrInvalidResponse)
	}
}

// The v1 API caps devicetype at "<app:20>#<device:19>".
const (
	maxAppNameLen    = 20
	maxDeviceNameLen = 19
)

// newDeviceType returns a unique application name. Uniqueness is all the
// bridge needs; it is not a secret.
func (c *Client) newDeviceType() string {
	app := c.deviceType
	if len(app) > maxAppNameLen {
		app = app[:maxAppNameLen]
	}
	device := strings.ReplaceAll(uuid.NewString(), "-", "")[:maxDeviceNameLen]
	return app + "#" + device
}
