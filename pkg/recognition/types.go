package recognition

import (
	"errors"
	"time"
)

// State is the recognition state machine value.
type State int

const (
	StateIdle State = iota
	StateListening
	StateInterim
	StateFinalizing
	StateError
	StateFallback
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateInterim:
		return "interim"
	case StateFinalizing:
		return "finalizing"
	case StateError:
		return "error"
	case StateFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Strategy is the transcription strategy in use.
type Strategy string

const (
	// StrategyNative is continuous platform recognition.
	StrategyNative Strategy = "native"
	// StrategyFallback records chunks and transcribes them remotely.
	StrategyFallback Strategy = "fallback"
)

// Utterance is a unit of recognized speech.
type Utterance struct {
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	Source    Strategy  `json:"source"`
	Timestamp time.Time `json:"timestamp"`

	// Promoted marks an interim result accepted because no final followed.
	Promoted bool `json:"promoted,omitempty"`
}

// EventKind identifies a Manager event.
type EventKind int

const (
	// EventUtterance carries an accepted utterance.
	EventUtterance EventKind = iota
	// EventSpeechStart signals the platform heard speech begin.
	EventSpeechStart
	// EventStateChange carries a new State.
	EventStateChange
	// EventError carries a recoverable recognition failure.
	EventError
	// EventDowngrade signals the one-way switch to the fallback strategy.
	EventDowngrade
)

// Event is emitted by the Manager on its event channel.
type Event struct {
	Kind      EventKind
	Utterance Utterance
	State     State
	Err       error
	At        time.Time
}

// ErrorCode is a native recognition error name.
type ErrorCode string

const (
	ErrorNetwork             ErrorCode = "network"
	ErrorAudioCapture        ErrorCode = "audio-capture"
	ErrorNotAllowed          ErrorCode = "not-allowed"
	ErrorNoSpeech            ErrorCode = "no-speech"
	ErrorAborted             ErrorCode = "aborted"
	ErrorServiceNotAllowed   ErrorCode = "service-not-allowed"
	ErrorLanguageUnsupported ErrorCode = "language-not-supported"
)

// IsTransient reports whether the error is retried with backoff.
func (c ErrorCode) IsTransient() bool {
	switch c {
	case ErrorNetwork, ErrorAudioCapture, ErrorNotAllowed:
		return true
	}
	return false
}

// IsIgnorable reports whether the error is routine and dropped silently.
func (c ErrorCode) IsIgnorable() bool {
	return c == ErrorNoSpeech || c == ErrorAborted
}

// Error implements the error interface.
func (c ErrorCode) Error() string {
	return "recognition: " + string(c)
}

var (
	// ErrClosed is returned when the Manager loop has exited.
	ErrClosed = errors.New("recognition: manager closed")

	// ErrNotFallback is returned by explicit recording calls when the
	// fallback strategy is not active.
	ErrNotFallback = errors.New("recognition: fallback strategy not active")

	// ErrNoSpeech is reported when a flushed fallback chunk yields no text.
	ErrNoSpeech = errors.New("recognition: speech not recognized")

	// ErrNativeBusy is returned by Native.Start when already running.
	ErrNativeBusy = errors.New("recognition: native recognizer already started")
)
