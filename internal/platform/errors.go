package platform

import "fmt"

// RateLimitError represents an explicit throttling signal from the remote
// platform, typically an HTTP 429.
type RateLimitError struct {
	Operation string // The operation that was throttled (e.g., "get_video", "fetch_media")
	Err       error  // Underlying error, if any
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited during %s", e.Operation)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NetworkError represents network failures including 5xx responses,
// connection resets and timeouts.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "get_stream", "fetch_media")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	return fmt.Sprintf("network error during %s", e.Operation)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FormatError represents a requested quality or format that the platform
// cannot serve for this media. A single relaxed retry may succeed.
type FormatError struct {
	Requested string // The quality/format that was requested
	Err       error  // Underlying error, if any
}

func (e *FormatError) Error() string {
	if e.Requested == "" {
		return "requested format is not available"
	}

	return fmt.Sprintf("requested format %q is not available", e.Requested)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// AuthRequiredError represents content that requires authentication the
// adapter does not hold. Never retried.
type AuthRequiredError struct {
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required during %s", e.Operation)
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Err
}

// NotFoundError represents media that is gone, private or never existed.
type NotFoundError struct {
	URL string
	Err error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("media not found at %s", e.URL)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// UnsupportedError represents a platform tag or content kind this build
// cannot handle.
type UnsupportedError struct {
	Subject string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported platform or content: %s", e.Subject)
}
