package stt

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("stt: API key required")

	// ErrNoBaseURL is returned when a gateway provider has no URL.
	ErrNoBaseURL = errors.New("stt: base URL required")

	// ErrEmptyAudio is returned when the request carries no audio.
	ErrEmptyAudio = errors.New("stt: empty audio")
)

// APIError represents an error response from a transcription API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("stt [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
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
	return fmt.Sprintf("stt [%s]: %v", e.Provider, e.Err)
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

// IsRetryable reports whether err is worth retrying. Transport failures
// are; API errors only when rate limited or server side.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return !errors.Is(err, ErrEmptyAudio) && !errors.Is(err, ErrNoAPIKey)
}
