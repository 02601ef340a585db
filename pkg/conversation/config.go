package conversation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-galina/pkg/audioio"
	"github.com/teslashibe/go-galina/pkg/bargein"
	"github.com/teslashibe/go-galina/pkg/capture"
	"github.com/teslashibe/go-galina/pkg/device"
	"github.com/teslashibe/go-galina/pkg/export"
	"github.com/teslashibe/go-galina/pkg/protocol"
	"github.com/teslashibe/go-galina/pkg/recognition"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/stt"
	"github.com/teslashibe/go-galina/pkg/tts"
)

// Publisher delivers event envelopes to UI clients.
type Publisher interface {
	Publish(msg *protocol.Message) error
}

// Components are the collaborators a conversation is built from.
type Components struct {
	// Source opens the microphone. Nil uses audioio.NewSource.
	Source capture.SourceFactory

	// Sink plays synthesized speech. Required.
	Sink audioio.Sink

	// Native is the continuous recognizer. When nil and the profile
	// reports native recognition, a browser relay is created.
	Native recognition.Native

	Transcriber stt.Provider   // Required for the fallback strategy
	Replier     reply.Provider // Required
	Synth       tts.Provider   // Required

	// Optional.
	Profiles  reply.ProfileStore
	Exporter  export.Exporter
	Publisher Publisher
}

// Config holds conversation settings.
type Config struct {
	Profile device.Profile
	Audio   audioio.Config

	// GreetDelay is the pause between starting and the greeting.
	GreetDelay time.Duration
	Greeting   string

	SoundEnabled bool

	// Per-component options, applied after the defaults derived here.
	Recognition  []recognition.Option
	BargeIn      []bargein.Option
	Reply        []reply.Option
	ResumeDelay  time.Duration
	ExportBudget time.Duration

	Logger *slog.Logger
}

// Option is a functional option for Config.
type Option func(*Config)

// WithProfile sets the device profile.
func WithProfile(p device.Profile) Option {
	return func(c *Config) {
		c.Profile = p
	}
}

// WithAudioConfig sets the capture and playback audio format.
func WithAudioConfig(cfg audioio.Config) Option {
	return func(c *Config) {
		c.Audio = cfg
	}
}

// WithGreeting sets the greeting text and delay. Empty text disables it.
func WithGreeting(text string, delay time.Duration) Option {
	return func(c *Config) {
		c.Greeting = text
		c.GreetDelay = delay
	}
}

// WithSound enables or disables spoken replies.
func WithSound(enabled bool) Option {
	return func(c *Config) {
		c.SoundEnabled = enabled
	}
}

// WithRecognitionOptions appends recognition manager options.
func WithRecognitionOptions(opts ...recognition.Option) Option {
	return func(c *Config) {
		c.Recognition = append(c.Recognition, opts...)
	}
}

// WithBargeInOptions appends barge-in detector options.
func WithBargeInOptions(opts ...bargein.Option) Option {
	return func(c *Config) {
		c.BargeIn = append(c.BargeIn, opts...)
	}
}

// WithReplyOptions appends reply service options.
func WithReplyOptions(opts ...reply.Option) Option {
	return func(c *Config) {
		c.Reply = append(c.Reply, opts...)
	}
}

// WithResumeDelay sets the echo-prone resume delay.
func WithResumeDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ResumeDelay = d
	}
}

// WithExportBudget bounds how long Teardown waits for the export.
func WithExportBudget(d time.Duration) Option {
	return func(c *Config) {
		c.ExportBudget = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Audio:        audioio.DefaultConfig(),
		GreetDelay:   time.Second,
		Greeting:     reply.Greeting,
		SoundEnabled: true,
		ResumeDelay:  300 * time.Millisecond,
		ExportBudget: 30 * time.Second,
		Logger:       slog.Default(),
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

// Validate checks the components against the configuration.
func (c *Config) Validate(comp Components) error {
	switch {
	case comp.Sink == nil:
		return missing("sink")
	case comp.Replier == nil:
		return missing("replier")
	case comp.Synth == nil:
		return missing("synthesizer")
	case comp.Transcriber == nil:
		// Native recognition can still downgrade to the fallback.
		return missing("transcriber")
	}
	return nil
}

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingComponent, name)
}
