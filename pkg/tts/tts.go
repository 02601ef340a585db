// Package tts turns assistant replies into speech.
//
// Providers cover the product gateway (/api/tts), OpenAI speech, and
// ElevenLabs over HTTP or a per-utterance WebSocket stream. They all
// implement Provider, so the conversation can chain them or swap them
// without touching callers.
//
//	provider, _ := tts.NewGateway(
//	    tts.WithBaseURL("https://galina.example"),
//	    tts.WithAPIKey(token),
//	)
//	result, _ := provider.Synthesize(ctx, "Здравствуйте!")
package tts

import (
	"context"
	"time"
)

// Provider synthesizes text to audio.
type Provider interface {
	// Synthesize returns the complete audio for text.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream returns audio chunks as they become available.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream is a streaming synthesis response.
// Callers read until Read returns nil, nil and then call Close.
type AudioStream interface {
	Read() ([]byte, error)
	Close() error
	Format() AudioFormat
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration
	CharCount int

	// LatencyMs is the time until the response arrived.
	LatencyMs int64
}

// AudioFormat describes how Audio is encoded.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding is an audio encoding name.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	// EncodingWAV is a RIFF container around PCM16; the header carries the rate.
	EncodingWAV Encoding = "wav"

	EncodingMP3 Encoding = "mp3_44100_128"
)

// IsPCM reports whether the encoding is raw little-endian PCM16.
func (e Encoding) IsPCM() bool {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// VoiceSettings controls ElevenLabs voice characteristics.
type VoiceSettings struct {
	// Stability trades expressiveness (low) for consistency (high), 0.0-1.0.
	Stability float64

	// SimilarityBoost is how closely output matches the reference voice, 0.0-1.0.
	SimilarityBoost float64

	Style        float64
	SpeakerBoost bool
}

// DefaultVoiceSettings returns a calm, consistent consultant voice.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.6,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding returns the sample rate implied by an encoding.
// WAV carries its own rate and reports 0.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingWAV:
		return 0
	default:
		return 24000
	}
}

// pcmDuration estimates playback length of mono PCM16 audio.
func pcmDuration(bytes int, enc Encoding) time.Duration {
	rate := SampleRateFromEncoding(enc)
	if rate == 0 || !enc.IsPCM() {
		return 0
	}
	return time.Duration(bytes/2) * time.Second / time.Duration(rate)
}

func pcmFormat(enc Encoding) AudioFormat {
	return AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
		BitDepth:   16,
	}
}
