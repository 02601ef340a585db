package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/teslashibe/go-galina/internal/config"
	"github.com/teslashibe/go-galina/internal/log"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/stt"
	"github.com/teslashibe/go-galina/pkg/tts"
)

func TestBuildProviders(t *testing.T) {
	t.Run("gateway", func(t *testing.T) {
		cfg := &config.Config{GatewayURL: "http://localhost:3000", Token: "tok", TTSVoice: "nova", Language: "ru"}
		p, err := buildProviders(cfg, log.Discard())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := p.Replier.(*reply.Gateway); !ok {
			t.Errorf("Replier = %T, want *reply.Gateway", p.Replier)
		}
		if _, ok := p.Transcriber.(*stt.Gateway); !ok {
			t.Errorf("Transcriber = %T, want *stt.Gateway", p.Transcriber)
		}
		if _, ok := p.Synth.(*tts.Gateway); !ok {
			t.Errorf("Synth = %T, want *tts.Gateway", p.Synth)
		}
		if p.Profiles == nil {
			t.Error("expected a profile store with a token")
		}
	})

	t.Run("gateway without token", func(t *testing.T) {
		cfg := &config.Config{GatewayURL: "http://localhost:3000"}
		p, err := buildProviders(cfg, log.Discard())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Profiles != nil {
			t.Error("expected no profile store without a token")
		}
	})

	t.Run("direct", func(t *testing.T) {
		cfg := &config.Config{OpenAIKey: "sk-test", ReplyModel: "gpt-4o-mini", TTSVoice: "shimmer"}
		p, err := buildProviders(cfg, log.Discard())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := p.Replier.(*reply.OpenAI); !ok {
			t.Errorf("Replier = %T, want *reply.OpenAI", p.Replier)
		}
		if _, ok := p.Transcriber.(*stt.Whisper); !ok {
			t.Errorf("Transcriber = %T, want *stt.Whisper", p.Transcriber)
		}
		if _, ok := p.Synth.(*tts.Chain); !ok {
			t.Errorf("Synth = %T, want *tts.Chain", p.Synth)
		}
	})

	t.Run("direct requires key", func(t *testing.T) {
		if _, err := buildProviders(&config.Config{}, log.Discard()); err == nil {
			t.Error("expected error without OpenAI key")
		}
	})
}

func TestDetectCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"detect", "--native", "--ua",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"native=true echo_prone=true mobile=false", "strategy: native", "safari:   false"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
