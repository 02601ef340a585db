package stt

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds STT provider configuration.
type Config struct {
	APIKey  string
	BaseURL string

	Model    string
	Language string

	Timeout time.Duration

	// Retry configuration
	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option is a functional option for configuring STT providers.
type Option func(*Config)

// WithAPIKey sets the API key or gateway bearer token.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithLanguage sets the default transcription language.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetry configures retry behavior for failed requests.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:      "whisper-1",
		Language:   "ru",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
