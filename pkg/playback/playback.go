// Package playback plays synthesized replies through an audio sink, one
// at a time.
//
// Play is single-flight: starting a new resource force-stops the live one
// first. Stop is safe when idle. Lifecycle events (started, ended, error,
// interrupted) are delivered on Events so the conversation can move back
// to listening and echo-prone recognition can resume.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-galina/pkg/audioio"
)

// ErrUnsupportedFormat is returned for audio the controller cannot decode.
var ErrUnsupportedFormat = errors.New("playback: unsupported audio format")

// ErrEmptyAudio is returned for a resource with no samples.
var ErrEmptyAudio = errors.New("playback: empty audio")

// EventType names a playback lifecycle event.
type EventType string

const (
	EventStarted     EventType = "started"
	EventEnded       EventType = "ended"
	EventError       EventType = "error"
	EventInterrupted EventType = "interrupted"
)

// Event is a playback lifecycle notification.
type Event struct {
	Type     EventType
	Handle   Handle
	Err      error
	Duration time.Duration
	At       time.Time
}

// Handle identifies one played resource.
type Handle struct {
	ID uuid.UUID
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	return h.ID.String()
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool {
	return h.ID == uuid.Nil
}

// Audio is an encoded resource to play. Encoding is "wav" for a RIFF
// container or "pcm_<rate>" for raw little-endian PCM16.
type Audio struct {
	Data       []byte
	Encoding   string
	SampleRate int
	Channels   int
}

// Decode turns the resource into PCM samples.
func (a Audio) Decode() (audioio.AudioChunk, error) {
	if len(a.Data) == 0 {
		return audioio.AudioChunk{}, ErrEmptyAudio
	}
	if a.Encoding == "wav" || (len(a.Data) >= 4 && string(a.Data[:4]) == "RIFF") {
		chunk, err := audioio.DecodeWAV(a.Data)
		if err != nil {
			return audioio.AudioChunk{}, fmt.Errorf("decode wav: %w", err)
		}
		if len(chunk.Samples) == 0 {
			return audioio.AudioChunk{}, ErrEmptyAudio
		}
		return chunk, nil
	}
	if strings.HasPrefix(a.Encoding, "pcm") && a.SampleRate > 0 {
		channels := a.Channels
		if channels == 0 {
			channels = 1
		}
		var chunk audioio.AudioChunk
		chunk.FromBytes(a.Data, a.SampleRate, channels)
		return chunk, nil
	}
	return audioio.AudioChunk{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, a.Encoding)
}

// Config configures a Controller.
type Config struct {
	// WriteSize is how much audio goes to the sink per write; stops take
	// effect between writes.
	WriteSize time.Duration

	// EventBuffer sizes the Events channel.
	EventBuffer int

	Logger *slog.Logger
}

// Option is a functional option for Config.
type Option func(*Config)

// WithWriteSize sets the per-write audio duration.
func WithWriteSize(d time.Duration) Option {
	return func(c *Config) {
		c.WriteSize = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		WriteSize:   100 * time.Millisecond,
		EventBuffer: 32,
		Logger:      slog.Default(),
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
	if c.WriteSize <= 0 {
		c.WriteSize = 100 * time.Millisecond
	}
}

type live struct {
	handle Handle
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the sink and at most one live playback.
type Controller struct {
	sink   audioio.Sink
	config *Config
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	current *live
	closed  bool
}

// New creates a controller over sink.
func New(sink audioio.Sink, opts ...Option) *Controller {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Controller{
		sink:   sink,
		config: cfg,
		logger: cfg.Logger.With("component", "playback.controller", "sink", sink.Name()),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events returns lifecycle notifications. Events are dropped when the
// buffer is full.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Playing reports whether a resource is live.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Current returns the live handle, or the zero handle.
func (c *Controller) Current() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Handle{}
	}
	return c.current.handle
}

// Play stops any live resource, decodes audio and starts playing it.
// Decode and sink failures are returned and also emitted as EventError.
// Playback continues in the background until it ends, fails or is stopped.
func (c *Controller) Play(ctx context.Context, audio Audio) (Handle, error) {
	handle := Handle{ID: uuid.New()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Handle{}, errors.New("playback: controller closed")
	}
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	if prev != nil {
		c.halt(prev)
	}

	chunk, err := audio.Decode()
	if err != nil {
		c.logger.Warn("decode failed", "handle", handle, "encoding", audio.Encoding, "error", err)
		c.emit(Event{Type: EventError, Handle: handle, Err: err})
		return Handle{}, err
	}
	chunk = chunk.Mono()

	if err := c.sink.Start(ctx); err != nil {
		err = fmt.Errorf("start sink: %w", err)
		c.emit(Event{Type: EventError, Handle: handle, Err: err})
		return Handle{}, err
	}

	playCtx, cancel := context.WithCancel(context.Background())
	l := &live{handle: handle, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed || c.current != nil {
		// Lost a race with Close or another Play.
		c.mu.Unlock()
		cancel()
		return Handle{}, errors.New("playback: superseded before start")
	}
	c.current = l
	c.mu.Unlock()

	c.logger.Debug("playback started", "handle", handle, "duration", chunk.Duration())
	c.emit(Event{Type: EventStarted, Handle: handle, Duration: chunk.Duration()})

	go c.run(playCtx, l, chunk)
	return handle, nil
}

func (c *Controller) run(ctx context.Context, l *live, chunk audioio.AudioChunk) {
	defer close(l.done)
	start := time.Now()

	err := c.write(ctx, chunk)
	if err == nil {
		err = c.sink.Flush(ctx)
	}

	c.mu.Lock()
	owned := c.current == l
	if owned {
		c.current = nil
	}
	c.mu.Unlock()

	// A stopped resource already reported itself as interrupted.
	if !owned || ctx.Err() != nil {
		return
	}
	l.cancel()

	if err != nil {
		c.logger.Warn("playback failed", "handle", l.handle, "error", err)
		c.emit(Event{Type: EventError, Handle: l.handle, Err: err})
		return
	}
	c.logger.Debug("playback ended", "handle", l.handle, "elapsed", time.Since(start))
	c.emit(Event{Type: EventEnded, Handle: l.handle, Duration: chunk.Duration()})
}

func (c *Controller) write(ctx context.Context, chunk audioio.AudioChunk) error {
	step := int(c.config.WriteSize * time.Duration(chunk.SampleRate) / time.Second)
	if step <= 0 {
		step = len(chunk.Samples)
	}
	for off := 0; off < len(chunk.Samples); off += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+step, len(chunk.Samples))
		part := audioio.AudioChunk{
			Samples:    chunk.Samples[off:end],
			SampleRate: chunk.SampleRate,
			Channels:   1,
		}
		if err := c.sink.Write(ctx, part); err != nil {
			return fmt.Errorf("write sink: %w", err)
		}
	}
	return nil
}

// Stop halts the live resource, if any, and emits EventInterrupted for it.
// It reports whether something was playing.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	l := c.current
	c.current = nil
	c.mu.Unlock()

	if l == nil {
		return false
	}
	c.halt(l)
	return true
}

// halt cancels l, waits for its writer to exit and drops buffered audio.
func (c *Controller) halt(l *live) {
	l.cancel()
	<-l.done
	if err := c.sink.Clear(); err != nil {
		c.logger.Warn("clear sink failed", "error", err)
	}
	c.logger.Debug("playback interrupted", "handle", l.handle)
	c.emit(Event{Type: EventInterrupted, Handle: l.handle})
}

// Close stops playback and closes the sink.
func (c *Controller) Close() error {
	c.Stop()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.sink.Close()
}

func (c *Controller) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("dropping playback event", "type", ev.Type)
	}
}
