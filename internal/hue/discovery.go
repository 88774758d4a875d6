package hue

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// discoveredBridge is one entry of the discovery service's answer.
type discoveredBridge struct {
	ID                string  `json:"id"`
	InternalIPAddress *string `json:"internalipaddress"`
}

// Discover asks the public discovery service for bridges on the caller's
// network and returns the first advertised internal address.
func (c *Client) Discover(ctx context.Context) (string, error) {
	const op = "discover"

	status, body, err := c.do(ctx, op, c.newRequest(ctx, http.MethodGet, c.discoveryURL, nil))
	if err != nil {
		return "", err
	}
	if !statusOK(status) {
		return "", apiError(op, status, body)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", &ParseError{Op: op, Err: err}
	}
	if len(entries) == 0 {
		return "", ErrNotFound
	}

	var first discoveredBridge
	if err := json.Unmarshal(entries[0], &first); err != nil {
		// Present but not an object with a string address.
		return "", ErrNotFound
	}
	if first.InternalIPAddress == nil || *first.InternalIPAddress == "" {
		return "", ErrNotFound
	}

	log.Debug().
		Str("address", *first.InternalIPAddress).
		Str("bridge_id", first.ID).
		Int("candidates", len(entries)).
		Msg("Bridge discovered")

	return *first.InternalIPAddress, nil
}
