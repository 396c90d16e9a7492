package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest reports a malformed URL or parameters. It is a
	// programming error and never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRateLimitExceeded is returned once retries against HTTP 429 run out.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrNoData is returned in offline mode when no fixture is loaded.
	ErrNoData = errors.New("no data available")
)

// UpstreamError is a non-success HTTP status that was not otherwise
// classified, or a 5xx that persisted after retries.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

// DecodingError is a response body that does not match the expected shape.
// Retrying cannot fix it.
type DecodingError struct {
	Endpoint string
	Err      error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Endpoint, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// NetworkError is a transport failure that persisted after retries.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsRetryableStatus reports whether an HTTP status goes through backoff.
func IsRetryableStatus(code int) bool {
	return code == 429 || (code >= 500 && code <= 599)
}
