// Package conversation assembles one voice consultation: microphone
// capture, recognition, barge-in, replies, synthesis and playback, wired
// to a single turn orchestrator and published to UI clients.
//
// Example usage:
//
//	conv, err := conversation.Create(conversation.Components{
//	    Sink:        sink,
//	    Transcriber: whisper,
//	    Replier:     chat,
//	    Synth:       voice,
//	    Publisher:   uiHub,
//	}, conversation.WithProfile(profile))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := conv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer conv.Teardown(context.Background())
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-galina/pkg/bargein"
	"github.com/teslashibe/go-galina/pkg/capture"
	"github.com/teslashibe/go-galina/pkg/device"
	"github.com/teslashibe/go-galina/pkg/export"
	"github.com/teslashibe/go-galina/pkg/generation"
	"github.com/teslashibe/go-galina/pkg/monitor"
	"github.com/teslashibe/go-galina/pkg/orchestrator"
	"github.com/teslashibe/go-galina/pkg/playback"
	"github.com/teslashibe/go-galina/pkg/protocol"
	"github.com/teslashibe/go-galina/pkg/recognition"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/tts"
)

// Conversation is one consultation from Start to Teardown.
type Conversation struct {
	id     string
	cfg    *Config
	comp   Components
	logger *slog.Logger

	gen        *generation.Counter
	capture    *capture.Session
	monitor    *monitor.Monitor
	detector   *bargein.Detector
	relay      *recognition.Relay
	recognizer *recognition.Manager
	replies    *reply.Service
	synth      *tts.Dedup
	player     *playback.Controller
	orch       *orchestrator.Orchestrator

	mu        sync.Mutex
	started   bool
	torn      bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	exportURL string
}

// Create allocates a call ID and builds every component. The device
// profile is fixed for the conversation's lifetime.
func Create(comp Components, opts ...Option) (*Conversation, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(comp); err != nil {
		return nil, err
	}

	c := &Conversation{
		id:   uuid.NewString(),
		cfg:  cfg,
		comp: comp,
		gen:  &generation.Counter{},
	}
	c.logger = cfg.Logger.With("component", "conversation", "call_id", c.id)
	profile := cfg.Profile

	c.capture = capture.NewSession(comp.Source,
		capture.WithAudioConfig(cfg.Audio),
		capture.WithMobile(profile.IsMobile),
		capture.WithLogger(cfg.Logger),
	)

	mon, err := monitor.New(monitor.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	c.monitor = mon

	c.detector = bargein.New(append([]bargein.Option{bargein.WithLogger(cfg.Logger)}, cfg.BargeIn...)...)

	native := comp.Native
	if native == nil && profile.HasNativeRecognition {
		c.relay = recognition.NewRelay(c.publishControl)
		native = c.relay
	}

	recogOpts := []recognition.Option{
		recognition.WithProfile(profile),
		recognition.WithLogger(cfg.Logger),
	}
	c.recognizer = recognition.New(native, c.capture.Recorder(), comp.Transcriber,
		func() bool { return c.orch.Speaking() },
		append(recogOpts, cfg.Recognition...)...,
	)

	c.replies = reply.NewService(comp.Replier, append([]reply.Option{reply.WithLogger(cfg.Logger)}, cfg.Reply...)...)
	c.synth = tts.NewDedup(comp.Synth, cfg.Logger)
	c.player = playback.New(comp.Sink, playback.WithLogger(cfg.Logger))

	c.orch = orchestrator.New(c.recognizer, c.replies, c.synth, c.player, c.gen,
		orchestrator.WithProfile(profile),
		orchestrator.WithSound(cfg.SoundEnabled),
		orchestrator.WithResumeDelay(cfg.ResumeDelay),
		orchestrator.WithCapture(c.capture),
		orchestrator.WithDetector(c.detector),
		orchestrator.WithLogger(cfg.Logger),
	)

	c.logger.Info("conversation created",
		"profile", profile.String(),
		"strategy", c.recognizer.Strategy(),
		"sound", cfg.SoundEnabled,
	)
	return c, nil
}

// ID returns the call ID.
func (c *Conversation) ID() string { return c.id }

// Profile returns the device profile.
func (c *Conversation) Profile() device.Profile { return c.cfg.Profile }

// Replies returns the reply service holding the history.
func (c *Conversation) Replies() *reply.Service { return c.replies }

// History returns the conversation messages so far.
func (c *Conversation) History() []reply.Message { return c.replies.History() }

// Capture returns the capture session.
func (c *Conversation) Capture() *capture.Session { return c.capture }

// Start loads the client profile, acquires the microphone, starts
// recognition and schedules the greeting. Background work runs until
// Teardown or until ctx is cancelled.
func (c *Conversation) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.torn:
		c.mu.Unlock()
		return ErrTornDown
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.goRun(func() { c.recognizer.Run(runCtx) })
	c.goRun(func() { c.orch.Run(runCtx) })
	c.goRun(func() { c.forward(runCtx) })

	if c.comp.Profiles != nil {
		// Memory is optional; a failed load only loses context.
		_ = c.replies.LoadProfile(ctx, c.comp.Profiles)
	}

	if err := c.capture.Start(ctx); err != nil {
		c.publishError(err)
		return err
	}

	chunks, unsubscribe := c.capture.Subscribe(32)
	levels, unsubscribeLevels := c.monitor.Subscribe(32)
	c.monitor.SetActive(true)
	c.goRun(func() {
		defer unsubscribe()
		c.monitor.Run(runCtx, chunks)
	})
	c.goRun(func() {
		defer unsubscribeLevels()
		c.detector.Run(runCtx, levels, c.orch.Playing)
	})

	if err := c.orch.Start(); err != nil {
		c.publishError(err)
		return err
	}

	if c.cfg.Greeting != "" {
		c.goRun(func() { c.greet(runCtx) })
	}

	c.logger.Info("conversation started")
	return nil
}

func (c *Conversation) goRun(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Conversation) greet(ctx context.Context) {
	timer := time.NewTimer(c.cfg.GreetDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	// A user who spoke first gets an answer, not a greeting.
	if state := c.orch.State(); state != orchestrator.StateListening || len(c.replies.History()) > 0 {
		c.logger.Info("greeting skipped", "state", state.String())
		return
	}
	c.replies.AddMessage(reply.RoleAssistant, c.cfg.Greeting)
	c.publish(protocol.NewReplyMessage(c.cfg.Greeting, uint64(c.gen.Current()), false))
	if c.orch.SoundEnabled() {
		c.orch.Say(c.cfg.Greeting)
	}
}

// Teardown stops capture, recognition and playback in that order, then
// exports the transcript if an exporter is set. It is idempotent; only
// the first call exports.
func (c *Conversation) Teardown(ctx context.Context) error {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return nil
	}
	c.torn = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if started {
		if err := c.orch.Stop(); err != nil {
			c.logger.Debug("orchestrator already closed", "error", err)
		}
		c.monitor.SetActive(false)
		cancel()
		c.wg.Wait()
	} else {
		c.capture.Stop()
	}
	c.player.Close()

	c.logger.Info("conversation torn down", "messages", len(c.replies.History()))
	if !started {
		return nil
	}
	return c.export(ctx)
}

func (c *Conversation) export(ctx context.Context) error {
	if c.comp.Exporter == nil {
		return nil
	}
	c.mu.Lock()
	startedAt := c.startedAt
	c.mu.Unlock()

	t := export.Transcript{
		CallID:    c.id,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		Profile:   c.replies.Profile(),
		Messages:  c.replies.History(),
	}
	if t.Empty() {
		c.logger.Debug("nothing to export")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExportBudget)
	defer cancel()
	url, err := c.comp.Exporter.Export(ctx, t)
	if err != nil {
		c.logger.Warn("transcript export failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.exportURL = url
	c.mu.Unlock()
	return nil
}

// ExportURL returns where the transcript was exported, if anywhere.
func (c *Conversation) ExportURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exportURL
}

func (c *Conversation) live() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.torn:
		return ErrTornDown
	case !c.started:
		return ErrNotStarted
	}
	return nil
}

// Mute stops recognition and energy sampling while keeping the
// microphone open.
func (c *Conversation) Mute() error {
	if err := c.live(); err != nil {
		return err
	}
	if err := c.orch.Mute(); err != nil {
		return err
	}
	c.monitor.SetActive(false)
	c.publishState()
	return nil
}

// Unmute resumes recognition.
func (c *Conversation) Unmute() error {
	if err := c.live(); err != nil {
		return err
	}
	if err := c.orch.Unmute(); err != nil {
		return err
	}
	c.monitor.SetActive(true)
	c.publishState()
	return nil
}

// SetSound toggles spoken replies. Reply text still reaches the history
// and the UI when sound is off.
func (c *Conversation) SetSound(enabled bool) error {
	if err := c.live(); err != nil {
		return err
	}
	c.orch.SetSound(enabled)
	c.publishState()
	return nil
}

// Interrupt abandons the reply being awaited or spoken.
func (c *Conversation) Interrupt(reason string) error {
	if err := c.live(); err != nil {
		return err
	}
	c.orch.Interrupt(reason)
	return nil
}

// Submit injects typed text as a user utterance.
func (c *Conversation) Submit(text string) error {
	if err := c.live(); err != nil {
		return err
	}
	c.orch.Submit(text)
	return nil
}

// BeginRecording starts an explicit push-to-talk recording.
func (c *Conversation) BeginRecording() error {
	if err := c.live(); err != nil {
		return err
	}
	return c.recognizer.BeginRecording()
}

// EndRecording submits the push-to-talk recording for transcription.
func (c *Conversation) EndRecording() error {
	if err := c.live(); err != nil {
		return err
	}
	return c.recognizer.EndRecording()
}

// HandleNative feeds a browser recognizer callback to the relay.
func (c *Conversation) HandleNative(d *protocol.NativeData) error {
	if c.relay == nil {
		return ErrNoRelay
	}
	c.relay.Push(recognition.NativeEvent{
		Kind:    recognition.NativeEventKind(d.Kind),
		Text:    d.Text,
		IsFinal: d.IsFinal,
		Error:   recognition.ErrorCode(d.Error),
	})
	return nil
}

// HandleCommand applies a UI command.
func (c *Conversation) HandleCommand(ctx context.Context, d *protocol.CommandData) error {
	switch d.Name {
	case protocol.CommandMute:
		return c.Mute()
	case protocol.CommandUnmute:
		return c.Unmute()
	case protocol.CommandStop:
		return c.Teardown(ctx)
	case protocol.CommandInterrupt:
		return c.Interrupt("user")
	case protocol.CommandRecordStart:
		return c.BeginRecording()
	case protocol.CommandRecordStop:
		return c.EndRecording()
	case protocol.CommandSound:
		enabled := true
		if d.Enabled != nil {
			enabled = *d.Enabled
		}
		return c.SetSound(enabled)
	default:
		return ErrUnknownCommand
	}
}

// Status is a snapshot for the status endpoint.
type Status struct {
	CallID      string    `json:"call_id"`
	State       string    `json:"state"`
	Generation  uint64    `json:"generation"`
	Recognition string    `json:"recognition"`
	Strategy    string    `json:"strategy"`
	Downgraded  bool      `json:"downgraded"`
	Muted       bool      `json:"muted"`
	Sound       bool      `json:"sound"`
	Microphone  bool      `json:"microphone"`
	Device      string    `json:"device"`
	Messages    int       `json:"messages"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	ExportURL   string    `json:"export_url,omitempty"`
}

// Status returns the current snapshot.
func (c *Conversation) Status() Status {
	c.mu.Lock()
	startedAt := c.startedAt
	running := c.started && !c.torn
	exportURL := c.exportURL
	c.mu.Unlock()

	s := Status{
		CallID:      c.id,
		State:       c.orch.State().String(),
		Generation:  uint64(c.gen.Current()),
		Recognition: c.recognizer.State().String(),
		Strategy:    string(c.recognizer.Strategy()),
		Sound:       c.orch.SoundEnabled(),
		Microphone:  c.capture.Live(),
		Device:      c.cfg.Profile.String(),
		Messages:    len(c.replies.History()),
		StartedAt:   startedAt,
		ExportURL:   exportURL,
	}
	if running {
		s.Muted = c.orch.Muted()
		s.Downgraded = c.recognizer.Downgraded()
	}
	return s
}
