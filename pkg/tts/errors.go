package tts

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoAPIKey  = errors.New("tts: API key required")
	ErrNoVoiceID = errors.New("tts: voice ID required")
	ErrNoBaseURL = errors.New("tts: base URL required")

	// ErrEmptyText is returned for blank input; nothing is sent upstream.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrDuplicate is returned by Dedup when text repeats the last request.
	ErrDuplicate = errors.New("tts: duplicate text")

	// ErrStreamClosed is returned when reading from a closed stream.
	ErrStreamClosed = errors.New("tts: stream closed")

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("tts: no providers available")
)

// APIError is an error response from a synthesis API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tts [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tts [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized returns true for HTTP 401.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// IsRetryable reports whether err is worth another attempt. Transport
// failures are retried; API errors only when the status says so.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyText) || errors.Is(err, ErrDuplicate) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return true
}
