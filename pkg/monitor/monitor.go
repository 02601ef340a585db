// Package monitor measures microphone energy for voice-activity and
// barge-in decisions.
//
// The Monitor consumes captured audio and, for every chunk received while
// it is active, emits a Level carrying an AnalyserNode-style byte
// spectrum average (0-255) and the chunk RMS. Inactive monitors drain
// their input without emitting.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-galina/pkg/audioio"
)

// Level is one energy sample.
type Level struct {
	// Energy is the average of the byte frequency spectrum (0-255).
	Energy float64

	// RMS is the time-domain RMS of the chunk (0.0-1.0).
	RMS float64

	At time.Time
}

// Config configures the Monitor.
type Config struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
	Logger      *slog.Logger
}

// Option is a functional option for configuring a Monitor.
type Option func(*Config)

// WithFFTSize sets the analysis window (power of two).
func WithFFTSize(n int) Option {
	return func(c *Config) {
		c.FFTSize = n
	}
}

// WithSmoothing sets the time constant applied to bin magnitudes.
func WithSmoothing(s float64) Option {
	return func(c *Config) {
		c.Smoothing = s
	}
}

// WithDecibelRange sets the range mapped onto 0-255.
func WithDecibelRange(minDB, maxDB float64) Option {
	return func(c *Config) {
		c.MinDecibels = minDB
		c.MaxDecibels = maxDB
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the browser analyser defaults.
func DefaultConfig() *Config {
	return &Config{
		FFTSize:     256,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the analyser parameters.
func (c *Config) Validate() error {
	if c.FFTSize < 32 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("monitor: fft size must be a power of two >= 32, got %d", c.FFTSize)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("monitor: smoothing must be in [0,1), got %v", c.Smoothing)
	}
	if c.MinDecibels >= c.MaxDecibels {
		return fmt.Errorf("monitor: min decibels %v must be below max %v", c.MinDecibels, c.MaxDecibels)
	}
	return nil
}

// Monitor converts captured audio into Level samples.
type Monitor struct {
	cfg      *Config
	logger   *slog.Logger
	analyser *Analyser
	active   atomic.Bool

	mu     sync.Mutex
	subs   map[int]chan Level
	nextID int
	last   Level
}

// New creates a Monitor.
func New(opts ...Option) (*Monitor, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "monitor"),
		analyser: NewAnalyser(cfg.FFTSize, cfg.Smoothing, cfg.MinDecibels, cfg.MaxDecibels),
		subs:     make(map[int]chan Level),
	}, nil
}

// SetActive turns level emission on or off. Turning it off resets the
// analyser so stale energy does not carry into the next activation.
func (m *Monitor) SetActive(active bool) {
	if m.active.Swap(active) == active {
		return
	}
	if !active {
		m.mu.Lock()
		m.analyser.Reset()
		m.mu.Unlock()
	}
	m.logger.Debug("monitor active changed", "active", active)
}

// Active reports whether levels are being emitted.
func (m *Monitor) Active() bool {
	return m.active.Load()
}

// Run consumes audio until ctx is done or in is closed.
func (m *Monitor) Run(ctx context.Context, in <-chan audioio.AudioChunk) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			if lvl, emitted := m.Process(chunk); emitted {
				m.publish(lvl)
			}
		}
	}
}

// Process analyses one chunk. emitted is false while the monitor is inactive.
func (m *Monitor) Process(chunk audioio.AudioChunk) (Level, bool) {
	if !m.active.Load() {
		return Level{}, false
	}
	mono := chunk.Mono()

	m.mu.Lock()
	m.analyser.Push(mono.Samples)
	lvl := Level{
		Energy: m.analyser.Energy(),
		RMS:    audioio.RMS(mono.Samples),
		At:     chunk.Captured,
	}
	if lvl.At.IsZero() {
		lvl.At = time.Now()
	}
	m.last = lvl
	m.mu.Unlock()

	return lvl, true
}

func (m *Monitor) publish(lvl Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- lvl:
		default:
		}
	}
}

// Last returns the most recent level.
func (m *Monitor) Last() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Subscribe returns a channel of levels and a cancel function.
func (m *Monitor) Subscribe(buffer int) (<-chan Level, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Level, buffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
