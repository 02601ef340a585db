package orchestrator

import (
	"context"
	"time"

	"github.com/teslashibe/go-galina/pkg/generation"
	"github.com/teslashibe/go-galina/pkg/playback"
	"github.com/teslashibe/go-galina/pkg/recognition"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/tts"
)

// State is the conversation state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateAwaitingReply
	StateSpeaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// EventKind identifies an orchestrator event.
type EventKind string

const (
	EventState       EventKind = "state"
	EventUtterance   EventKind = "utterance"
	EventReply       EventKind = "reply"
	EventInterrupted EventKind = "interrupted"
	EventDropped     EventKind = "dropped"
	EventError       EventKind = "error"
	EventRecognition EventKind = "recognition"
)

// Event is emitted on the orchestrator's event channel.
type Event struct {
	Kind  EventKind
	State State
	Token generation.Token

	// Text is the utterance or reply text.
	Text string

	// Fallback marks a canned reply.
	Fallback bool

	// Reason says why an interruption happened or a result was dropped.
	Reason string

	Recognition recognition.Event
	Err         error
	At          time.Time
}

// Recognizer is the recognition strategy manager.
type Recognizer interface {
	Start() error
	Stop() error
	Events() <-chan recognition.Event
}

// Replier produces assistant replies.
type Replier interface {
	Reply(ctx context.Context, text string) (*reply.Result, error)
}

// Synthesizer turns reply text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*tts.AudioResult, error)
}

// Player plays synthesized audio.
type Player interface {
	Play(ctx context.Context, audio playback.Audio) (playback.Handle, error)
	Stop() bool
	Playing() bool
	Events() <-chan playback.Event
}

// Stopper is torn down first on a manual stop (the capture session).
type Stopper interface {
	Stop()
}

// dedupResetter is implemented by synthesizers that suppress repeats.
type dedupResetter interface {
	ResetDedup()
}

var (
	_ Recognizer    = (*recognition.Manager)(nil)
	_ Replier       = (*reply.Service)(nil)
	_ Synthesizer   = (tts.Provider)(nil)
	_ Player        = (*playback.Controller)(nil)
	_ dedupResetter = (*tts.Dedup)(nil)
)

// audioFor converts a synthesis result to a playable resource.
func audioFor(r *tts.AudioResult) playback.Audio {
	return playback.Audio{
		Data:       r.Audio,
		Encoding:   string(r.Format.Encoding),
		SampleRate: r.Format.SampleRate,
		Channels:   r.Format.Channels,
	}
}
