package reply

import (
	"log/slog"
	"net/http"
	"time"
)

// Config configures providers and the Service.
type Config struct {
	APIKey  string
	BaseURL string

	Model       string
	MaxTokens   int
	Temperature float64

	Timeout       time.Duration
	StreamTimeout time.Duration
	HTTPClient    *http.Client

	// Service settings.
	SystemPrompt string
	HistoryLimit int
	Streaming    bool
	MaxRetries   int
	EmptyBackoff time.Duration
	ErrorBackoff time.Duration

	Logger *slog.Logger
}

// Option is a functional option for Config.
type Option func(*Config)

// WithAPIKey sets the API key or gateway bearer token.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL sets the provider base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithMaxTokens limits the reply length.
func WithMaxTokens(n int) Option {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) {
		c.Temperature = t
	}
}

// WithTimeout sets the whole-response request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithSystemPrompt replaces the built-in system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithHistoryLimit sets how many past messages accompany each request.
func WithHistoryLimit(n int) Option {
	return func(c *Config) {
		c.HistoryLimit = n
	}
}

// WithStreaming makes the Service read replies incrementally.
func WithStreaming(enabled bool) Option {
	return func(c *Config) {
		c.Streaming = enabled
	}
}

// WithRetry sets the retry ceiling and the backoff bases for empty and
// failed replies.
func WithRetry(maxRetries int, emptyBackoff, errorBackoff time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.EmptyBackoff = emptyBackoff
		c.ErrorBackoff = errorBackoff
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:         "gpt-4o-mini",
		MaxTokens:     500,
		Temperature:   0.7,
		Timeout:       60 * time.Second,
		StreamTimeout: 120 * time.Second,
		SystemPrompt:  SystemPrompt,
		HistoryLimit:  10,
		MaxRetries:    3,
		EmptyBackoff:  500 * time.Millisecond,
		ErrorBackoff:  time.Second,
		Logger:        slog.Default(),
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
