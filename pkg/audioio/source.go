package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Device errors returned by Source.Start. Capture maps these onto
// user-facing microphone errors.
var (
	ErrPermissionDenied = errors.New("audioio: permission denied")
	ErrDeviceNotFound   = errors.New("audioio: device not found")
	ErrDeviceBusy       = errors.New("audioio: device busy")
)

// AudioChunk represents a chunk of interleaved PCM16 audio.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int

	// Captured is when the first sample was captured.
	Captured time.Time
}

// Bytes returns the raw little-endian bytes of the chunk.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from raw PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the duration of this audio chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Mono returns the chunk downmixed to a single channel.
func (c AudioChunk) Mono() AudioChunk {
	if c.Channels <= 1 {
		return c
	}
	mono := make([]int16, len(c.Samples)/c.Channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < c.Channels; ch++ {
			sum += int32(c.Samples[i*c.Channels+ch])
		}
		mono[i] = int16(sum / int32(c.Channels))
	}
	return AudioChunk{Samples: mono, SampleRate: c.SampleRate, Channels: 1, Captured: c.Captured}
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture. Device failures wrap ErrPermissionDenied,
	// ErrDeviceNotFound or ErrDeviceBusy.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "alsa", "webrtc", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
