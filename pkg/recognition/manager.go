// Package recognition turns captured speech into utterances.
//
// The Manager runs one of two strategies chosen from the device profile:
// continuous native recognition, or chunked recording with remote
// transcription. Native recognition that keeps failing is abandoned for
// the fallback strategy, and that switch is never undone within a session.
//
// All state transitions happen on the Manager's own goroutine (Run).
// Public methods enqueue work onto it and wait for it to finish.
package recognition

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-galina/pkg/capture"
	"github.com/teslashibe/go-galina/pkg/device"
	"github.com/teslashibe/go-galina/pkg/stt"
)

// ChunkSource yields closed recording chunks.
type ChunkSource interface {
	// Rotate closes the current chunk and opens the next one.
	Rotate() (capture.Chunk, bool)
}

// Config configures a Manager.
type Config struct {
	Profile device.Profile

	// Native retry policy.
	MaxRetries   int
	RetryBackoff time.Duration
	RestartDelay time.Duration

	// InterimPromotion is how long an interim result may wait for a final.
	InterimPromotion time.Duration

	// Mobile polling.
	PollInterval  time.Duration
	MinChunkBytes int
	MinVolume     float64

	// MinExplicitBytes is the floor for push-to-talk and downgrade flushes.
	MinExplicitBytes int

	Language string
	Filter   Filter
	Logger   *slog.Logger
}

// Option is a functional option for configuring a Manager.
type Option func(*Config)

// WithProfile sets the device profile that selects the strategy.
func WithProfile(p device.Profile) Option {
	return func(c *Config) {
		c.Profile = p
	}
}

// WithRetry sets the native retry ceiling and base backoff.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryBackoff = backoff
	}
}

// WithRestartDelay sets the delay before restarting after an end event.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RestartDelay = d
	}
}

// WithInterimPromotion sets the interim debounce window.
func WithInterimPromotion(d time.Duration) Option {
	return func(c *Config) {
		c.InterimPromotion = d
	}
}

// WithPolling sets the mobile poll interval and silence floors.
func WithPolling(interval time.Duration, minBytes int, minVolume float64) Option {
	return func(c *Config) {
		c.PollInterval = interval
		c.MinChunkBytes = minBytes
		c.MinVolume = minVolume
	}
}

// WithLanguage sets the transcription language.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the production timings.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		RetryBackoff:     time.Second,
		RestartDelay:     100 * time.Millisecond,
		InterimPromotion: 1500 * time.Millisecond,
		PollInterval:     3 * time.Second,
		MinChunkBytes:    5000,
		MinVolume:        2.0,
		MinExplicitBytes: 1000,
		Language:         "ru",
		Filter:           DefaultFilter(),
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Manager is the recognition strategy state machine.
type Manager struct {
	cfg         *Config
	logger      *slog.Logger
	native      Native
	chunks      ChunkSource
	transcriber stt.Provider
	speaking    func() bool

	cmds    chan func()
	events  chan Event
	stopped chan struct{}
	runCtx  context.Context

	mu       sync.Mutex
	state    State
	strategy Strategy

	// Owned by the Run goroutine.
	active        bool
	downgraded    bool
	retries       int
	session       uint64
	lastProcessed string
	interim       string
	promotion     *time.Timer
	poller        *time.Ticker
	pollDone      chan struct{}
	recording     bool
}

// New creates a Manager. native may be nil, in which case the fallback
// strategy is used regardless of the profile. speaking reports whether the
// assistant is currently audible.
func New(native Native, chunks ChunkSource, transcriber stt.Provider, speaking func() bool, opts ...Option) *Manager {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if speaking == nil {
		speaking = func() bool { return false }
	}

	strategy := StrategyFallback
	if native != nil && cfg.Profile.UsesNativeStrategy() {
		strategy = StrategyNative
	}

	m := &Manager{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "recognition.manager"),
		native:      native,
		chunks:      chunks,
		transcriber: transcriber,
		speaking:    speaking,
		cmds:        make(chan func(), 64),
		events:      make(chan Event, 64),
		stopped:     make(chan struct{}),
		runCtx:      context.Background(),
		strategy:    strategy,
	}
	m.logger.Info("recognition strategy selected", "strategy", strategy, "profile", cfg.Profile.String())
	return m
}

// Events returns the event channel. Events are dropped if it stays full.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Strategy returns the strategy in use.
func (m *Manager) Strategy() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

// Run processes work until ctx is done. It must be running for the
// public methods to return.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.stopped)
	m.runCtx = ctx

	var nativeEvents <-chan NativeEvent
	if m.native != nil {
		nativeEvents = m.native.Events()
	}

	for {
		select {
		case <-ctx.Done():
			m.stop()
			return
		case fn := <-m.cmds:
			fn()
		case ev := <-nativeEvents:
			m.handleNative(ev)
		}
	}
}

// call runs fn on the Run goroutine and waits for it.
func (m *Manager) call(fn func()) error {
	done := make(chan struct{})
	select {
	case m.cmds <- func() { fn(); close(done) }:
	case <-m.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrClosed
	}
}

// post enqueues fn without waiting.
func (m *Manager) post(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.stopped:
	}
}

// after runs fn on the Run goroutine after d, unless the manager was
// stopped or restarted in between.
func (m *Manager) after(d time.Duration, fn func()) *time.Timer {
	session := m.session
	return time.AfterFunc(d, func() {
		m.post(func() {
			if m.session == session && m.active {
				fn()
			}
		})
	})
}

// Start activates recognition with the current strategy.
func (m *Manager) Start() error {
	return m.call(m.start)
}

// Stop deactivates recognition. Pending timers and in-flight
// transcriptions are discarded. Safe to call when idle.
func (m *Manager) Stop() error {
	return m.call(m.stop)
}

// BeginRecording starts an explicit fallback recording (push-to-talk).
func (m *Manager) BeginRecording() error {
	var err error
	if cerr := m.call(func() { err = m.beginRecording() }); cerr != nil {
		return cerr
	}
	return err
}

// EndRecording closes the explicit recording and submits it for
// transcription if it is large enough.
func (m *Manager) EndRecording() error {
	var err error
	if cerr := m.call(func() { err = m.endRecording() }); cerr != nil {
		return cerr
	}
	return err
}

func (m *Manager) start() {
	if m.active {
		return
	}
	m.active = true
	m.session++

	if m.currentStrategy() == StrategyNative {
		m.setState(StateListening)
		m.startNative()
		return
	}

	m.setState(StateFallback)
	if m.cfg.Profile.IsMobile {
		m.startPolling()
	}
}

func (m *Manager) stop() {
	if !m.active {
		return
	}
	m.active = false
	m.session++
	m.lastProcessed = ""
	m.interim = ""
	m.recording = false
	m.cancelPromotion()
	m.stopPolling()
	if m.currentStrategy() == StrategyNative && m.native != nil {
		m.native.Stop()
	}
	m.setState(StateIdle)
}

func (m *Manager) startNative() {
	if err := m.native.Start(); err != nil && !errors.Is(err, ErrNativeBusy) {
		m.logger.Warn("native start failed", "error", err)
	}
}

func (m *Manager) handleNative(ev NativeEvent) {
	if !m.active || m.currentStrategy() != StrategyNative {
		return
	}

	switch ev.Kind {
	case NativeStart:
		m.setState(StateListening)

	case NativeSpeechStart:
		m.lastProcessed = ""
		m.emit(Event{Kind: EventSpeechStart, At: ev.At})

	case NativeResult:
		if m.cfg.Profile.IsEchoProne && m.speaking() {
			m.logger.Debug("ignoring result during playback")
			return
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		if ev.IsFinal {
			m.acceptFinal(text, ev.At)
		} else {
			m.bufferInterim(text)
		}

	case NativeError:
		m.handleNativeError(ev.Error)

	case NativeEnd:
		if m.cfg.Profile.IsEchoProne && m.speaking() {
			return
		}
		if m.State() == StateError {
			// A retry is already scheduled.
			return
		}
		m.after(m.cfg.RestartDelay, m.startNative)
	}
}

func (m *Manager) acceptFinal(text string, at time.Time) {
	m.cancelPromotion()
	m.interim = ""
	if text == m.lastProcessed {
		m.logger.Debug("skipping duplicate final", "text", text)
		return
	}
	m.lastProcessed = text
	m.retries = 0

	m.setState(StateFinalizing)
	m.emitUtterance(Utterance{Text: text, IsFinal: true, Source: StrategyNative, Timestamp: at})
	m.setState(StateListening)
}

func (m *Manager) bufferInterim(text string) {
	m.interim = text
	m.setState(StateInterim)
	m.cancelPromotion()
	m.promotion = m.after(m.cfg.InterimPromotion, m.promoteInterim)
}

// promoteInterim accepts a buffered interim result that never finalized.
func (m *Manager) promoteInterim() {
	text := m.interim
	m.interim = ""
	m.promotion = nil
	if text == "" {
		return
	}
	if m.cfg.Profile.IsEchoProne && m.speaking() {
		return
	}
	if m.lastProcessed != "" && strings.Contains(m.lastProcessed, text) {
		return
	}
	m.lastProcessed = text
	m.logger.Info("promoting interim result", "text", text)
	m.emitUtterance(Utterance{Text: text, IsFinal: true, Source: StrategyNative, Timestamp: time.Now(), Promoted: true})
	m.setState(StateListening)
}

func (m *Manager) cancelPromotion() {
	if m.promotion != nil {
		m.promotion.Stop()
		m.promotion = nil
	}
}

func (m *Manager) handleNativeError(code ErrorCode) {
	if code.IsIgnorable() {
		return
	}
	m.logger.Warn("native recognition error", "error", string(code), "retries", m.retries)

	if code.IsTransient() {
		m.retries++
		if m.retries < m.cfg.MaxRetries {
			m.setState(StateError)
			backoff := m.cfg.RetryBackoff * time.Duration(m.retries)
			m.after(backoff, func() {
				m.setState(StateListening)
				m.startNative()
			})
			return
		}
	}
	m.downgrade(code)
}

// downgrade switches to the fallback strategy for the rest of the session
// and flushes whatever the recorder holds.
func (m *Manager) downgrade(cause ErrorCode) {
	m.cancelPromotion()
	m.interim = ""
	// Pending native restarts belong to the abandoned strategy.
	m.session++
	m.native.Stop()

	m.mu.Lock()
	m.strategy = StrategyFallback
	m.mu.Unlock()
	m.downgraded = true
	m.setState(StateFallback)
	m.emit(Event{Kind: EventDowngrade, Err: cause, State: StateFallback, At: time.Now()})
	m.logger.Warn("switched to fallback recognition", "cause", string(cause), "retries", m.retries)

	if m.cfg.Profile.IsMobile {
		m.startPolling()
	}
	if chunk, ok := m.rotate(); ok && chunk.Size() > m.cfg.MinExplicitBytes {
		m.transcribe(chunk, true)
	}
}

// Downgraded reports whether native recognition was abandoned.
func (m *Manager) Downgraded() bool {
	var d bool
	if err := m.call(func() { d = m.downgraded }); err != nil {
		return m.Strategy() == StrategyFallback
	}
	return d
}

func (m *Manager) startPolling() {
	if m.poller != nil {
		return
	}
	m.poller = time.NewTicker(m.cfg.PollInterval)
	m.pollDone = make(chan struct{})
	ticker, done := m.poller, m.pollDone
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.post(m.poll)
			}
		}
	}()
}

func (m *Manager) stopPolling() {
	if m.poller == nil {
		return
	}
	m.poller.Stop()
	close(m.pollDone)
	m.poller = nil
	m.pollDone = nil
}

// poll rotates the recorder and submits the closed chunk unless the
// assistant is speaking or the chunk is silent.
func (m *Manager) poll() {
	if !m.active || m.currentStrategy() != StrategyFallback {
		return
	}
	chunk, ok := m.rotate()
	if !ok {
		return
	}
	if m.speaking() {
		m.logger.Debug("assistant speaking, chunk discarded")
		return
	}
	if size := chunk.Size(); size <= m.cfg.MinChunkBytes {
		m.logger.Debug("chunk too small", "bytes", size)
		return
	}
	if vol := chunk.AverageVolume(); vol < m.cfg.MinVolume {
		m.logger.Debug("chunk too quiet", "volume", vol)
		return
	}
	m.transcribe(chunk, false)
}

func (m *Manager) beginRecording() error {
	if !m.active || m.currentStrategy() != StrategyFallback {
		return ErrNotFallback
	}
	// Drop whatever was captured before the user asked to record.
	m.rotate()
	m.recording = true
	return nil
}

func (m *Manager) endRecording() error {
	if !m.active || m.currentStrategy() != StrategyFallback {
		return ErrNotFallback
	}
	if !m.recording {
		return nil
	}
	m.recording = false
	chunk, ok := m.rotate()
	if !ok || chunk.Size() <= m.cfg.MinExplicitBytes {
		m.logger.Debug("explicit recording too small", "bytes", chunk.Size())
		return nil
	}
	m.transcribe(chunk, true)
	return nil
}

func (m *Manager) rotate() (capture.Chunk, bool) {
	if m.chunks == nil {
		return capture.Chunk{}, false
	}
	return m.chunks.Rotate()
}

// transcribe submits a chunk asynchronously. The result is applied on the
// Run goroutine and dropped if the manager stopped meanwhile. reportEmpty
// turns an empty transcript into an ErrNoSpeech event.
func (m *Manager) transcribe(chunk capture.Chunk, reportEmpty bool) {
	if m.transcriber == nil {
		return
	}
	session := m.session
	ctx := m.runCtx
	req := stt.Request{Audio: chunk.WAV(), Language: m.cfg.Language}

	go func() {
		res, err := m.transcriber.Transcribe(ctx, req)
		m.post(func() {
			if m.session != session || !m.active {
				return
			}
			if err != nil {
				m.logger.Warn("transcription failed", "error", err)
				m.emit(Event{Kind: EventError, Err: err, At: time.Now()})
				return
			}
			text, ok := m.cfg.Filter.Clean(res.Text)
			if !ok {
				if res.Text != "" {
					m.logger.Debug("discarding filtered transcript", "text", res.Text)
				}
				if reportEmpty {
					m.emit(Event{Kind: EventError, Err: ErrNoSpeech, At: time.Now()})
				}
				return
			}
			m.emitUtterance(Utterance{Text: text, IsFinal: true, Source: StrategyFallback, Timestamp: time.Now()})
		})
	}()
}

func (m *Manager) currentStrategy() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.emit(Event{Kind: EventStateChange, State: s, At: time.Now()})
	}
}

func (m *Manager) emitUtterance(u Utterance) {
	m.logger.Info("utterance accepted", "text", u.Text, "source", u.Source, "promoted", u.Promoted)
	m.emit(Event{Kind: EventUtterance, Utterance: u, At: u.Timestamp})
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("recognition event dropped", "kind", ev.Kind)
	}
}
