// Package bargein decides when microphone energy is the user talking over
// the assistant rather than the assistant's own voice leaking back in.
//
// A Detector counts consecutive frames whose energy clears a threshold,
// and only while assistant audio is playing; frames fed while the
// assistant is silent reset the count. Once enough frames in a row clear
// the threshold, and the debounce interval has passed since the last
// confirmed interruption, the detector fires.
//
// Echo-prone platforms disable detection outright and stop recognition
// during playback instead.
package bargein

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-galina/pkg/monitor"
)

// Config configures a Detector.
type Config struct {
	// Threshold is the energy (0-255 spectrum average) a frame must exceed.
	Threshold float64

	// SpeakingOffset is added to Threshold while the assistant speaks.
	SpeakingOffset float64

	// ConfirmFrames is how many consecutive loud frames confirm speech.
	ConfirmFrames int

	// Debounce is the minimum time between two interruptions.
	Debounce time.Duration

	// Disabled turns detection off (echo-prone platforms).
	Disabled bool

	Logger *slog.Logger
}

// Option is a functional option for configuring a Detector.
type Option func(*Config)

// WithThreshold sets the base energy threshold and the speaking offset.
func WithThreshold(threshold, speakingOffset float64) Option {
	return func(c *Config) {
		c.Threshold = threshold
		c.SpeakingOffset = speakingOffset
	}
}

// WithConfirmFrames sets the consecutive frame count.
func WithConfirmFrames(n int) Option {
	return func(c *Config) {
		c.ConfirmFrames = n
	}
}

// WithDebounce sets the minimum interval between interruptions.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.Debounce = d
	}
}

// WithDisabled turns detection off.
func WithDisabled(disabled bool) Option {
	return func(c *Config) {
		c.Disabled = disabled
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() *Config {
	return &Config{
		Threshold:      60,
		SpeakingOffset: 15,
		ConfirmFrames:  3,
		Debounce:       time.Second,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Event describes a confirmed interruption.
type Event struct {
	Energy    float64
	Threshold float64
	Speaking  bool
	At        time.Time
}

// Detector is the barge-in state machine. It is safe for concurrent use.
type Detector struct {
	cfg    *Config
	logger *slog.Logger

	mu       sync.Mutex
	count    int
	last     time.Time
	fired    int
	onInterr func(Event)
}

// New creates a Detector.
func New(opts ...Option) *Detector {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfirmFrames < 1 {
		cfg.ConfirmFrames = 1
	}
	return &Detector{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "bargein"),
	}
}

// OnInterrupt registers the callback invoked when an interruption fires.
// The callback runs on the goroutine that fed the triggering frame.
func (d *Detector) OnInterrupt(fn func(Event)) {
	d.mu.Lock()
	d.onInterr = fn
	d.mu.Unlock()
}

// Disabled reports whether detection is off.
func (d *Detector) Disabled() bool {
	return d.cfg.Disabled
}

// ThresholdFor returns the energy threshold in effect.
func (d *Detector) ThresholdFor(speaking bool) float64 {
	if speaking {
		return d.cfg.Threshold + d.cfg.SpeakingOffset
	}
	return d.cfg.Threshold
}

// Process feeds one energy frame. It returns true when the frame confirms
// an interruption. Frames while the assistant is silent never count.
func (d *Detector) Process(lvl monitor.Level, speaking bool) bool {
	if d.cfg.Disabled {
		return false
	}
	if !speaking {
		d.Reset()
		return false
	}
	now := lvl.At
	if now.IsZero() {
		now = time.Now()
	}
	threshold := d.ThresholdFor(speaking)

	d.mu.Lock()
	if lvl.Energy <= threshold {
		d.count = 0
		d.mu.Unlock()
		return false
	}

	d.count++
	if d.count < d.cfg.ConfirmFrames || !d.debouncedLocked(now) {
		d.mu.Unlock()
		return false
	}
	d.count = 0
	d.last = now
	d.fired++
	fn := d.onInterr
	d.mu.Unlock()

	ev := Event{Energy: lvl.Energy, Threshold: threshold, Speaking: speaking, At: now}
	d.logger.Info("voice interruption", "energy", lvl.Energy, "threshold", threshold, "speaking", speaking)
	if fn != nil {
		fn(ev)
	}
	return true
}

// SpeechStarted reports a speech-start signal from native recognition.
// While the assistant is speaking it fires an interruption, subject to the
// same debounce as energy-confirmed ones.
func (d *Detector) SpeechStarted(at time.Time, speaking bool) bool {
	if d.cfg.Disabled || !speaking {
		return false
	}

	d.mu.Lock()
	if !d.debouncedLocked(at) {
		d.mu.Unlock()
		return false
	}
	d.count = 0
	d.last = at
	d.fired++
	fn := d.onInterr
	d.mu.Unlock()

	d.logger.Info("speech-start interruption")
	if fn != nil {
		fn(Event{Threshold: d.ThresholdFor(true), Speaking: true, At: at})
	}
	return true
}

func (d *Detector) debouncedLocked(now time.Time) bool {
	return d.last.IsZero() || now.Sub(d.last) > d.cfg.Debounce
}

// Run feeds levels into the detector until ctx is done or levels closes.
// speaking is polled once per frame and should report playback only.
func (d *Detector) Run(ctx context.Context, levels <-chan monitor.Level, speaking func() bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case lvl, ok := <-levels:
			if !ok {
				return
			}
			d.Process(lvl, speaking != nil && speaking())
		}
	}
}

// Reset clears the confirmation counter.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.count = 0
	d.mu.Unlock()
}

// Count returns the current confirmation counter.
func (d *Detector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Fired returns how many interruptions have fired.
func (d *Detector) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}
