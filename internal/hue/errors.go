package hue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Discover when no bridge address is advertised.
	ErrNotFound = errors.New("no bridge found")

	// ErrLinkButtonNotPressed is returned by Pair until the physical link
	// button on the bridge has been pressed. It is the only retryable failure.
	ErrLinkButtonNotPressed = errors.New("link button not pressed")

	// ErrInvalidResponse means the bridge answered with well-formed JSON that
	// does not match any expected shape.
	ErrInvalidResponse = errors.New("invalid bridge response")

	errInvalidJSON = errors.New("body is not valid JSON")
)

// linkButtonErrorType is the v1 API error code for "link button not pressed".
const linkButtonErrorType = 101

// NetworkError wraps a transport-level failure (dial, TLS, timeout, cancellation).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError wraps a response body that could not be decoded.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx answer, with whatever descriptions the server gave.
type APIError struct {
	Op           string
	Status       int
	Descriptions []string
}

func (e *APIError) Error() string {
	if len(e.Descriptions) == 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, strings.Join(e.Descriptions, "; "))
}

// IsRetryable reports whether the caller may re-invoke the failed operation
// unchanged after user interaction. Only the link button condition qualifies;
// the core never retries on its own.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLinkButtonNotPressed)
}
