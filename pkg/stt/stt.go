// Package stt provides remote speech-to-text for the fallback recognition
// strategy.
//
// Providers take a closed WAV chunk and return its transcript. An empty
// transcript is a valid result meaning "no speech", not an error.
//
// Example usage:
//
//	provider, _ := stt.NewWhisper(
//	    stt.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    stt.WithLanguage("ru"),
//	)
//
//	result, _ := provider.Transcribe(ctx, stt.Request{Audio: chunk.WAV()})
package stt

import (
	"context"
	"time"
)

// Provider transcribes recorded audio.
type Provider interface {
	// Transcribe converts a recorded chunk to text.
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// Name identifies the provider in logs.
	Name() string
}

// Request is one transcription call.
type Request struct {
	// Audio is a complete audio file (WAV unless Filename says otherwise).
	Audio []byte

	// Filename is the upload name; its extension tells the service the format.
	Filename string

	// Language overrides the provider default (ISO-639-1).
	Language string

	// Prompt biases recognition toward expected vocabulary.
	Prompt string
}

// Result is a transcript.
type Result struct {
	Text      string
	Language  string
	Duration  time.Duration
	LatencyMs int64
}

func (r Request) filename() string {
	if r.Filename != "" {
		return r.Filename
	}
	return "recording.wav"
}
