package reply

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoAPIKey  = errors.New("reply: API key required")
	ErrNoBaseURL = errors.New("reply: base URL required")

	// ErrEmptyReply is returned when the model answered with no text.
	ErrEmptyReply = errors.New("reply: empty reply")

	// ErrEmptyText is returned for a blank user utterance.
	ErrEmptyText = errors.New("reply: empty text")

	// ErrInFlight is returned when the same text is already being answered.
	ErrInFlight = errors.New("reply: identical request in flight")
)

// APIError is an error response from a model API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("reply [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsUnauthorized returns true for HTTP 401.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsRetryable returns true for 429 and 5xx.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("reply [%s]: %v", e.Provider, e.Err)
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
