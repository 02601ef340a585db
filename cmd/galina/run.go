package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/teslashibe/go-galina/internal/config"
	"github.com/teslashibe/go-galina/internal/log"
	"github.com/teslashibe/go-galina/pkg/audioio"
	"github.com/teslashibe/go-galina/pkg/capture"
	"github.com/teslashibe/go-galina/pkg/conversation"
	"github.com/teslashibe/go-galina/pkg/device"
	"github.com/teslashibe/go-galina/pkg/export"
	"github.com/teslashibe/go-galina/pkg/hub"
	"github.com/teslashibe/go-galina/pkg/protocol"
	"github.com/teslashibe/go-galina/pkg/recognition"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/web"
)

// teardownBudget bounds shutdown, including the transcript export.
const teardownBudget = 45 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a consultation and serve the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cfg)
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.Component("galina")

	ua := device.UserAgent{Raw: cfg.UserAgent, NativeRecognition: cfg.NativeRecognition}
	profile := device.Detect(ua.Checks())
	logger.Info("device profile", "profile", profile.String(), "native", profile.UsesNativeStrategy())

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(cfg.AudioBackend)
	audioCfg.Device = cfg.AudioDevice
	audioCfg.SampleRate = cfg.SampleRate

	sink, err := audioio.NewSink(audioCfg, slog.Default())
	if err != nil {
		return err
	}

	// The browser microphone peer outlives renegotiation, so one source
	// serves every capture open.
	var rtc *audioio.WebRTCSource
	var factory capture.SourceFactory
	if audioCfg.Backend == audioio.BackendWebRTC {
		rtc = audioio.NewWebRTCSource(audioCfg, slog.Default(), cfg.ICEURLs...)
		factory = func(audioio.Config, *slog.Logger) (audioio.Source, error) {
			return rtc, nil
		}
	}

	remote, err := buildProviders(cfg, slog.Default())
	if err != nil {
		return err
	}

	uiHub := hub.New(hub.WithLogger(slog.Default()))
	go uiHub.Run(ctx)

	comp := conversation.Components{
		Source:      factory,
		Sink:        sink,
		Transcriber: remote.Transcriber,
		Replier:     remote.Replier,
		Synth:       remote.Synth,
		Profiles:    remote.Profiles,
		Publisher:   uiHub,
	}

	var docs *export.GoogleDocs
	if cfg.ExportEnabled() {
		docs, err = export.NewGoogleDocs(export.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			TokenPath:    cfg.GoogleTokenPath,
			Logger:       slog.Default(),
		})
		if err != nil {
			return err
		}
		comp.Exporter = docs
	}

	conv, err := conversation.Create(comp,
		conversation.WithProfile(profile),
		conversation.WithAudioConfig(audioCfg),
		conversation.WithGreeting(reply.Greeting, cfg.GreetDelay),
		conversation.WithSound(cfg.SoundEnabled),
		conversation.WithRecognitionOptions(recognition.WithLanguage(cfg.Language)),
		conversation.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	uiHub.OnNative(func(d *protocol.NativeData) {
		if err := conv.HandleNative(d); err != nil {
			logger.Debug("native event dropped", "kind", d.Kind, "error", err)
		}
	})
	uiHub.OnCommand(func(d *protocol.CommandData) {
		if err := conv.HandleCommand(ctx, d); err != nil {
			logger.Warn("command failed", "command", d.Name, "error", err)
		}
	})
	uiHub.OnConnect(func(clientID string) {
		logger.Info("ui connected", "client", clientID, "clients", uiHub.ClientCount())
	})

	webCfg := web.Config{
		Addr:       cfg.HTTPAddr,
		Controller: conv,
		Hub:        uiHub,
		StaticDir:  cfg.StaticDir,
		Logger:     slog.Default(),
	}
	if rtc != nil {
		webCfg.RTC = rtc
	}
	if docs != nil {
		webCfg.Export = docs
	}
	srv := web.NewServer(webCfg)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()

	// A failed start is already published to the UI; keep serving so it
	// can be shown, and tear down on exit as usual.
	if err := conv.Start(ctx); err != nil {
		logger.Error("conversation failed to start", "error", err, "user_message", conversation.UserMessage(err))
	} else {
		logger.Info("conversation started", "call_id", conv.ID(), "strategy", conv.Status().Strategy)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-srvErr:
		if err != nil {
			logger.Error("web server stopped", "error", err)
		}
	}

	tctx, cancel := context.WithTimeout(context.Background(), teardownBudget)
	defer cancel()
	if terr := conv.Teardown(tctx); terr != nil && !errors.Is(terr, context.Canceled) {
		logger.Warn("teardown finished with error", "error", terr)
	}
	if url := conv.ExportURL(); url != "" {
		logger.Info("transcript exported", "url", url)
	}
	if rtc != nil {
		rtc.Close()
	}
	return err
}
