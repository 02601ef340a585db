package tts

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds TTS provider configuration.
type Config struct {
	APIKey  string
	BaseURL string

	VoiceID       string
	ModelID       string
	VoiceSettings VoiceSettings

	// Speed is the speaking rate for providers that support it (1.0 = normal).
	Speed float64

	OutputFormat Encoding

	Timeout       time.Duration
	StreamTimeout time.Duration

	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient overrides the shared client. Tests point it at httptest.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithAPIKey sets the API key or gateway bearer token.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL overrides the provider base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithVoice sets the voice ID or preset name.
func WithVoice(voiceID string) Option {
	return func(c *Config) {
		c.VoiceID = voiceID
	}
}

// WithModel sets the model ID.
func WithModel(modelID string) Option {
	return func(c *Config) {
		c.ModelID = modelID
	}
}

// WithSpeed sets the speaking rate.
func WithSpeed(speed float64) Option {
	return func(c *Config) {
		c.Speed = speed
	}
}

// WithOutputFormat sets the audio output format.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) {
		c.OutputFormat = format
	}
}

// WithVoiceSettings sets voice characteristics.
func WithVoiceSettings(settings VoiceSettings) Option {
	return func(c *Config) {
		c.VoiceSettings = settings
	}
}

// WithTimeout sets the request timeout for non-streaming requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithStreamTimeout sets the timeout for streaming requests.
func WithStreamTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.StreamTimeout = timeout
	}
}

// WithRetry configures retry behavior for failed requests.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns defaults suited to Russian speech.
func DefaultConfig() *Config {
	return &Config{
		ModelID:       ModelMultilingualV2,
		OutputFormat:  EncodingPCM24,
		VoiceSettings: DefaultVoiceSettings(),
		Speed:         0.95,
		Timeout:       30 * time.Second,
		StreamTimeout: 60 * time.Second,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
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

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ValidateWithVoice checks that both API key and voice ID are present.
func (c *Config) ValidateWithVoice() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	return nil
}
