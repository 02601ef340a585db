// Package audioio provides microphone capture and speaker playback backends.
//
// Supported backends:
//   - ALSA (Linux) - arecord/aplay subprocesses for local development
//   - WebRTC - a browser microphone delivered as an Opus audio track
//   - Mock - CI/Testing without hardware
//
// The backend is selected by configuration; "auto" picks ALSA on Linux
// and the mock elsewhere.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendALSA uses Linux ALSA command line tools.
	BackendALSA Backend = "alsa"
	// BackendWebRTC receives microphone audio from a browser peer.
	BackendWebRTC Backend = "webrtc"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Constraints are processing hints passed to the capture device.
// Backends apply what they can and ignore the rest.
type Constraints struct {
	EchoCancellation bool `yaml:"echo_cancellation" json:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression" json:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control" json:"auto_gain_control"`

	// SampleRate and ChannelCount pin the device format when non-zero.
	SampleRate   int `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	ChannelCount int `yaml:"channel_count,omitempty" json:"channel_count,omitempty"`
}

// DefaultConstraints enables all voice processing hints.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// MobileConstraints additionally pins 44.1kHz mono.
func MobileConstraints() Constraints {
	c := DefaultConstraints()
	c.SampleRate = 44100
	c.ChannelCount = 1
	return c
}

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples: "default", "plughw:1,0" for ALSA; ignored by mock and WebRTC.
	Device string `yaml:"device" json:"device"`

	Constraints Constraints `yaml:"constraints" json:"constraints"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Constraints:    DefaultConstraints(),
	}
}

// WithConstraints returns a copy of the config with the constraints
// applied, including any pinned format.
func (c Config) WithConstraints(cons Constraints) Config {
	c.Constraints = cons
	if cons.SampleRate > 0 {
		c.SampleRate = cons.SampleRate
	}
	if cons.ChannelCount > 0 {
		c.Channels = cons.ChannelCount
	}
	return c
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per channel in one buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
