// Package orchestrator sequences a spoken conversation turn: accepted
// utterance, assistant reply, synthesized speech.
//
// Every turn captures a generation token when it starts. Replies and audio
// that resolve after the token was superseded (by an interruption, a newer
// turn or a stop) are dropped without producing sound. Network calls are
// never aborted; they are left to finish and be discarded.
//
// All state changes happen on the Run goroutine. Public methods enqueue
// work onto it, so callbacks from recognition, barge-in and playback can
// call them from any goroutine.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-galina/pkg/bargein"
	"github.com/teslashibe/go-galina/pkg/device"
	"github.com/teslashibe/go-galina/pkg/generation"
	"github.com/teslashibe/go-galina/pkg/playback"
	"github.com/teslashibe/go-galina/pkg/recognition"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/tts"
)

// ErrClosed is returned after Run has exited.
var ErrClosed = errors.New("orchestrator: closed")

// Config configures an Orchestrator.
type Config struct {
	Profile device.Profile

	// ResumeDelay is how long echo-prone platforms wait after playback
	// before listening again.
	ResumeDelay time.Duration

	// SoundEnabled controls whether replies are spoken.
	SoundEnabled bool

	// Capture is stopped first on a manual stop.
	Capture Stopper

	// Detector receives native speech-start signals while speaking.
	Detector *bargein.Detector

	Logger *slog.Logger
}

// Option is a functional option for Config.
type Option func(*Config)

// WithProfile sets the device profile.
func WithProfile(p device.Profile) Option {
	return func(c *Config) {
		c.Profile = p
	}
}

// WithResumeDelay sets the echo-prone resume delay.
func WithResumeDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ResumeDelay = d
	}
}

// WithSound enables or disables spoken replies.
func WithSound(enabled bool) Option {
	return func(c *Config) {
		c.SoundEnabled = enabled
	}
}

// WithCapture sets the capture session torn down on stop.
func WithCapture(s Stopper) Option {
	return func(c *Config) {
		c.Capture = s
	}
}

// WithDetector wires a barge-in detector.
func WithDetector(d *bargein.Detector) Option {
	return func(c *Config) {
		c.Detector = d
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
		ResumeDelay:  300 * time.Millisecond,
		SoundEnabled: true,
		Logger:       slog.Default(),
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
}

// Orchestrator is the turn state machine.
type Orchestrator struct {
	cfg        *Config
	logger     *slog.Logger
	recognizer Recognizer
	replier    Replier
	synth      Synthesizer
	player     Player
	gen        *generation.Counter

	cmds    chan func()
	events  chan Event
	stopped chan struct{}
	runCtx  context.Context

	mu           sync.Mutex
	state        State
	sound        bool
	synthesizing bool

	// Owned by the Run goroutine.
	pending     string
	handle      playback.Handle
	muted       bool
	recogPaused bool
	resume      *time.Timer
	session     uint64
}

// New creates an Orchestrator. gen may be shared with other components;
// nil allocates a private counter.
func New(recognizer Recognizer, replier Replier, synth Synthesizer, player Player, gen *generation.Counter, opts ...Option) *Orchestrator {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if gen == nil {
		gen = &generation.Counter{}
	}

	o := &Orchestrator{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "orchestrator"),
		recognizer: recognizer,
		replier:    replier,
		synth:      synth,
		player:     player,
		gen:        gen,
		cmds:       make(chan func(), 64),
		events:     make(chan Event, 128),
		stopped:    make(chan struct{}),
		runCtx:     context.Background(),
		sound:      cfg.SoundEnabled,
	}
	if cfg.Detector != nil {
		cfg.Detector.OnInterrupt(func(bargein.Event) {
			o.post(o.bargeIn)
		})
	}
	return o
}

// Events returns the event channel. Events are dropped if it stays full.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Playing reports whether reply audio is playing.
func (o *Orchestrator) Playing() bool {
	return o.State() == StateSpeaking || o.player.Playing()
}

// Speaking reports whether the assistant holds the floor: synthesizing a
// reply or playing it. Recognition skips transcription while it does.
func (o *Orchestrator) Speaking() bool {
	o.mu.Lock()
	synthesizing := o.synthesizing
	o.mu.Unlock()
	return synthesizing || o.Playing()
}

// Generation returns the live token.
func (o *Orchestrator) Generation() generation.Token {
	return o.gen.Current()
}

// SoundEnabled reports whether replies are spoken.
func (o *Orchestrator) SoundEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sound
}

// Run processes work until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.stopped)
	o.runCtx = ctx

	recogEvents := o.recognizer.Events()
	playEvents := o.player.Events()

	for {
		select {
		case <-ctx.Done():
			o.stop()
			return
		case fn := <-o.cmds:
			fn()
		case ev := <-recogEvents:
			o.handleRecognition(ev)
		case ev := <-playEvents:
			o.handlePlayback(ev)
		}
	}
}

func (o *Orchestrator) call(fn func()) error {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(done) }:
	case <-o.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-o.stopped:
		return ErrClosed
	}
}

func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.stopped:
	}
}

// Start begins listening.
func (o *Orchestrator) Start() error {
	var err error
	if cerr := o.call(func() { err = o.start() }); cerr != nil {
		return cerr
	}
	return err
}

// Stop ends the conversation: capture, recognition, then playback. It is
// idempotent.
func (o *Orchestrator) Stop() error {
	return o.call(o.stop)
}

// Interrupt abandons the current turn. It only acts while a reply is
// awaited or spoken.
func (o *Orchestrator) Interrupt(reason string) {
	o.post(func() { o.interrupt(reason) })
}

// Submit feeds an utterance as if recognition had accepted it.
func (o *Orchestrator) Submit(text string) {
	o.post(func() { o.acceptUtterance(text) })
}

// Say speaks text outside the reply flow, e.g. the greeting. It only
// acts while listening, so it never displaces a turn the user started.
func (o *Orchestrator) Say(text string) {
	o.post(func() {
		if o.State() != StateListening {
			o.logger.Debug("say skipped", "state", o.State())
			return
		}
		token := o.gen.Advance(generation.ReasonNewTurn)
		o.cancelTurn()
		o.speak(token, text)
	})
}

// Mute stops recognition without ending the conversation.
func (o *Orchestrator) Mute() error {
	return o.call(func() {
		if o.muted {
			return
		}
		o.muted = true
		o.pauseRecognition()
	})
}

// Unmute resumes recognition.
func (o *Orchestrator) Unmute() error {
	return o.call(func() {
		if !o.muted {
			return
		}
		o.muted = false
		if o.State() == StateIdle {
			return
		}
		if o.cfg.Profile.IsEchoProne && o.State() == StateSpeaking {
			return
		}
		o.resumeRecognition()
	})
}

// Muted reports whether recognition is muted.
func (o *Orchestrator) Muted() bool {
	var muted bool
	if err := o.call(func() { muted = o.muted }); err != nil {
		return false
	}
	return muted
}

// SetSound enables or disables spoken replies. Disabling stops any
// audio that is playing.
func (o *Orchestrator) SetSound(enabled bool) {
	o.post(func() {
		o.mu.Lock()
		o.sound = enabled
		o.mu.Unlock()
		if !enabled && o.State() == StateSpeaking {
			o.interrupt("sound disabled")
		}
	})
}

func (o *Orchestrator) start() error {
	if o.State() != StateIdle {
		return nil
	}
	o.session++
	o.setState(StateListening)
	if o.muted {
		return nil
	}
	o.recogPaused = false
	return o.recognizer.Start()
}

func (o *Orchestrator) stop() {
	if o.State() == StateIdle {
		return
	}
	o.gen.Advance(generation.ReasonStop)
	o.session++
	o.cancelResume()
	o.pending = ""

	if o.cfg.Capture != nil {
		o.cfg.Capture.Stop()
	}
	if err := o.recognizer.Stop(); err != nil {
		o.logger.Warn("recognition stop failed", "error", err)
	}
	o.player.Stop()
	o.handle = playback.Handle{}
	o.setState(StateIdle)
	o.logger.Info("conversation stopped")
}

func (o *Orchestrator) handleRecognition(ev recognition.Event) {
	o.emit(Event{Kind: EventRecognition, Recognition: ev})

	switch ev.Kind {
	case recognition.EventUtterance:
		if ev.Utterance.IsFinal {
			o.acceptUtterance(ev.Utterance.Text)
		}
	case recognition.EventSpeechStart:
		if o.cfg.Detector != nil {
			o.cfg.Detector.SpeechStarted(ev.At, o.State() == StateSpeaking)
		}
	}
}

func (o *Orchestrator) acceptUtterance(text string) {
	text = strings.TrimSpace(text)
	if text == "" || o.State() == StateIdle {
		return
	}
	if o.State() == StateAwaitingReply && text == o.pending {
		o.logger.Debug("utterance already awaiting reply", "text", text)
		return
	}

	token := o.gen.Advance(generation.ReasonNewTurn)
	o.cancelTurn()
	if d, ok := o.synth.(dedupResetter); ok {
		d.ResetDedup()
	}

	o.pending = text
	o.setSynthesizing(false)
	o.setState(StateAwaitingReply)
	o.emit(Event{Kind: EventUtterance, Token: token, Text: text})
	o.logger.Info("requesting reply", "generation", token, "text", text)

	ctx := o.runCtx
	go func() {
		res, err := o.replier.Reply(ctx, text)
		o.post(func() { o.onReply(token, res, err) })
	}()
}

// cancelTurn stops audio from a superseded turn.
func (o *Orchestrator) cancelTurn() {
	if o.State() == StateSpeaking || o.player.Playing() {
		o.player.Stop()
		o.handle = playback.Handle{}
		if o.recogPaused {
			o.resumeRecognition()
		}
	}
}

func (o *Orchestrator) onReply(token generation.Token, res *reply.Result, err error) {
	if o.gen.IsStale(token) {
		o.logger.Debug("dropping stale reply", "generation", token, "current", o.gen.Current())
		o.emit(Event{Kind: EventDropped, Token: token, Reason: "stale reply"})
		return
	}
	o.pending = ""

	if err != nil {
		if !errors.Is(err, reply.ErrInFlight) && !errors.Is(err, context.Canceled) {
			o.logger.Warn("reply failed", "generation", token, "error", err)
			o.emit(Event{Kind: EventError, Token: token, Err: err})
		}
		o.setState(StateListening)
		return
	}

	o.emit(Event{Kind: EventReply, Token: token, Text: res.Text, Fallback: res.Fallback})
	if !o.SoundEnabled() {
		o.setState(StateListening)
		return
	}
	o.speak(token, res.Text)
}

// speak synthesizes text for token and plays it if still current.
func (o *Orchestrator) speak(token generation.Token, text string) {
	o.setState(StateAwaitingReply)
	o.setSynthesizing(true)
	ctx := o.runCtx
	go func() {
		audio, err := o.synth.Synthesize(ctx, text)
		o.post(func() { o.onAudio(token, audio, err) })
	}()
}

func (o *Orchestrator) onAudio(token generation.Token, audio *tts.AudioResult, err error) {
	if o.gen.IsStale(token) {
		o.logger.Debug("dropping stale audio", "generation", token)
		o.emit(Event{Kind: EventDropped, Token: token, Reason: "stale audio"})
		return
	}
	if err != nil {
		if !errors.Is(err, tts.ErrDuplicate) {
			o.logger.Warn("synthesis failed", "generation", token, "error", err)
			o.emit(Event{Kind: EventError, Token: token, Err: err})
		}
		o.setState(StateListening)
		o.restartRecognition()
		return
	}
	if !o.SoundEnabled() {
		o.setState(StateListening)
		o.restartRecognition()
		return
	}

	if o.cfg.Profile.IsEchoProne {
		o.pauseRecognition()
	}
	handle, err := o.player.Play(o.runCtx, audioFor(audio))
	if err != nil {
		o.logger.Warn("playback failed to start", "generation", token, "error", err)
		o.emit(Event{Kind: EventError, Token: token, Err: err})
		o.afterPlayback()
		return
	}
	o.handle = handle
	o.setState(StateSpeaking)
}

func (o *Orchestrator) handlePlayback(ev playback.Event) {
	if ev.Handle != o.handle {
		return
	}
	switch ev.Type {
	case playback.EventEnded, playback.EventError:
		if ev.Type == playback.EventError {
			o.emit(Event{Kind: EventError, Token: o.gen.Current(), Err: ev.Err})
		}
		o.handle = playback.Handle{}
		o.afterPlayback()
	}
}

// afterPlayback returns to listening, resuming echo-prone recognition
// after the resume delay.
func (o *Orchestrator) afterPlayback() {
	if o.State() == StateIdle {
		return
	}
	o.setState(StateListening)
	if o.recogPaused {
		o.scheduleResume()
	}
}

// bargeIn handles a detector interruption. Only audible replies can be
// barged in on, and a muted user cannot interrupt.
func (o *Orchestrator) bargeIn() {
	if o.muted || o.State() != StateSpeaking {
		o.logger.Debug("barge-in ignored", "state", o.State(), "muted", o.muted)
		return
	}
	o.interrupt("barge-in")
}

func (o *Orchestrator) interrupt(reason string) {
	state := o.State()
	if state != StateAwaitingReply && state != StateSpeaking {
		return
	}
	token := o.gen.Advance(generation.ReasonInterruption)
	o.pending = ""
	o.player.Stop()
	o.handle = playback.Handle{}
	o.logger.Info("turn interrupted", "reason", reason, "generation", token, "state", state)
	o.emit(Event{Kind: EventInterrupted, Token: token, Reason: reason})
	o.setState(StateListening)
	if o.recogPaused {
		o.resumeRecognition()
	}
}

func (o *Orchestrator) pauseRecognition() {
	o.cancelResume()
	if o.recogPaused {
		return
	}
	o.recogPaused = true
	if err := o.recognizer.Stop(); err != nil {
		o.logger.Warn("recognition stop failed", "error", err)
	}
}

func (o *Orchestrator) resumeRecognition() {
	o.cancelResume()
	if o.muted {
		return
	}
	o.recogPaused = false
	if err := o.recognizer.Start(); err != nil {
		o.logger.Warn("recognition start failed", "error", err)
	}
}

// restartRecognition revives echo-prone native recognition after a
// synthesis that produced no audio. A recognizer that ended while the
// reply was being synthesized was not restarted.
func (o *Orchestrator) restartRecognition() {
	if !o.cfg.Profile.IsEchoProne || o.muted || o.recogPaused || o.State() == StateIdle {
		return
	}
	if err := o.recognizer.Stop(); err != nil {
		o.logger.Warn("recognition stop failed", "error", err)
	}
	if err := o.recognizer.Start(); err != nil {
		o.logger.Warn("recognition start failed", "error", err)
	}
}

func (o *Orchestrator) scheduleResume() {
	o.cancelResume()
	session := o.session
	o.resume = time.AfterFunc(o.cfg.ResumeDelay, func() {
		o.post(func() {
			o.resume = nil
			if o.session != session || o.State() != StateListening || !o.recogPaused {
				return
			}
			o.resumeRecognition()
		})
	})
}

func (o *Orchestrator) cancelResume() {
	if o.resume != nil {
		o.resume.Stop()
		o.resume = nil
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	if s != StateAwaitingReply {
		o.synthesizing = false
	}
	o.mu.Unlock()
	if prev != s {
		o.logger.Debug("state change", "from", prev, "to", s)
		o.emit(Event{Kind: EventState, State: s, Token: o.gen.Current()})
	}
}

func (o *Orchestrator) setSynthesizing(v bool) {
	o.mu.Lock()
	o.synthesizing = v
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Kind != EventState {
		ev.State = o.State()
	}
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("orchestrator event dropped", "kind", ev.Kind)
	}
}
