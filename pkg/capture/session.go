// Package capture owns the microphone for a conversation.
//
// A Session acquires the device, fans captured audio out to subscribers
// (the volume monitor), and feeds a rolling Recorder used by the fallback
// recognition strategy. At most one acquisition is live per Session;
// starting again tears the previous one down first.
package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-galina/pkg/audioio"
)

// SourceFactory builds an audio source for the given configuration.
type SourceFactory func(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error)

// Config configures a capture Session.
type Config struct {
	Audio  audioio.Config
	Mobile bool

	// RecorderLimit caps the audio held by one recorder chunk.
	RecorderLimit time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithAudioConfig sets the base audio configuration.
func WithAudioConfig(cfg audioio.Config) Option {
	return func(c *Config) {
		c.Audio = cfg
	}
}

// WithMobile enables the mobile capture hints (44.1kHz mono).
func WithMobile(mobile bool) Option {
	return func(c *Config) {
		c.Mobile = mobile
	}
}

// WithRecorderLimit caps how much audio a recorder chunk keeps.
func WithRecorderLimit(d time.Duration) Option {
	return func(c *Config) {
		c.RecorderLimit = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Audio:         audioio.DefaultConfig(),
		RecorderLimit: time.Minute,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Constraints returns the capture hints for this configuration.
func (c *Config) Constraints() audioio.Constraints {
	if c.Mobile {
		return audioio.MobileConstraints()
	}
	return audioio.DefaultConstraints()
}

// Session owns the microphone stream, the recorder and the subscriber fan-out.
type Session struct {
	cfg      *Config
	factory  SourceFactory
	logger   *slog.Logger
	recorder *Recorder

	mu     sync.Mutex
	source audioio.Source
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[int]chan audioio.AudioChunk
	nextID int
	starts int
}

// NewSession creates a capture session. factory defaults to audioio.NewSource.
func NewSession(factory SourceFactory, opts ...Option) *Session {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if factory == nil {
		factory = audioio.NewSource
	}

	return &Session{
		cfg:      cfg,
		factory:  factory,
		logger:   cfg.Logger.With("component", "capture.session"),
		recorder: NewRecorder(cfg.RecorderLimit),
		subs:     make(map[int]chan audioio.AudioChunk),
	}
}

// Start acquires the microphone and starts the recorder. If a stream is
// already live it is released first. Failures are *MicError values.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.source != nil {
		s.logger.Debug("replacing live capture")
		s.stopLocked()
	}

	audioCfg := s.cfg.Audio.WithConstraints(s.cfg.Constraints())
	src, err := s.factory(audioCfg, s.cfg.Logger)
	if err != nil {
		me := classify(err)
		s.logger.Warn("microphone unavailable", "kind", me.Kind, "error", err)
		return me
	}

	// The stream outlives the call that acquired it.
	runCtx, cancel := context.WithCancel(context.Background())
	if err := src.Start(runCtx); err != nil {
		cancel()
		src.Close()
		me := classify(err)
		s.logger.Warn("microphone unavailable", "kind", me.Kind, "error", err)
		return me
	}

	s.source = src
	s.cancel = cancel
	s.done = make(chan struct{})
	s.starts++
	s.recorder.Start()

	go s.pump(runCtx, src, s.done)

	s.logger.Info("microphone acquired",
		"backend", src.Name(),
		"sample_rate", audioCfg.SampleRate,
		"channels", audioCfg.Channels,
		"mobile", s.cfg.Mobile,
	)
	return nil
}

func (s *Session) pump(ctx context.Context, src audioio.Source, done chan struct{}) {
	defer close(done)
	for {
		chunk, err := src.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				s.logger.Warn("capture read failed", "error", err)
			}
			return
		}

		s.recorder.Append(chunk)

		s.mu.Lock()
		for _, ch := range s.subs {
			select {
			case ch <- chunk:
			default:
			}
		}
		s.mu.Unlock()
	}
}

// Stop releases the microphone. It is safe to call when nothing is live.
func (s *Session) Stop() {
	s.mu.Lock()
	done := s.stopLocked()
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *Session) stopLocked() chan struct{} {
	if s.source == nil {
		return nil
	}
	s.cancel()
	s.source.Stop()
	s.source.Close()
	s.recorder.Stop()

	done := s.done
	s.source = nil
	s.cancel = nil
	s.done = nil
	s.logger.Info("microphone released")
	return done
}

// Live reports whether a microphone stream is held.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}

// Source returns the live source, or nil.
func (s *Session) Source() audioio.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Acquisitions returns how many times the microphone was acquired.
func (s *Session) Acquisitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Recorder returns the chunked recorder fed by this session.
func (s *Session) Recorder() *Recorder {
	return s.recorder
}

// Subscribe returns a channel receiving every captured chunk and a
// function that cancels the subscription. Slow subscribers miss chunks
// rather than stall capture.
func (s *Session) Subscribe(buffer int) (<-chan audioio.AudioChunk, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan audioio.AudioChunk, buffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
