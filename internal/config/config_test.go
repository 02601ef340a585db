package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("requires a remote", func(t *testing.T) {
		t.Setenv("GALINA_GATEWAY_URL", "")
		t.Setenv("OPENAI_API_KEY", "")
		if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
			t.Fatal("expected error without gateway or OpenAI key")
		}
	})

	t.Run("reads env file", func(t *testing.T) {
		t.Setenv("GALINA_GATEWAY_URL", "")
		t.Setenv("OPENAI_API_KEY", "")
		os.Unsetenv("GALINA_GATEWAY_URL")
		os.Unsetenv("OPENAI_API_KEY")

		path := filepath.Join(t.TempDir(), "test.env")
		data := "GALINA_GATEWAY_URL=http://localhost:3000/\nGALINA_GREET_DELAY=250ms\nGALINA_SOUND=off\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			os.Unsetenv("GALINA_GREET_DELAY")
			os.Unsetenv("GALINA_SOUND")
		})

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.GatewayURL != "http://localhost:3000" {
			t.Errorf("GatewayURL = %q, want trailing slash trimmed", cfg.GatewayURL)
		}
		if !cfg.UseGateway() {
			t.Error("expected gateway mode")
		}
		if cfg.GreetDelay != 250*time.Millisecond {
			t.Errorf("GreetDelay = %v, want 250ms", cfg.GreetDelay)
		}
		if cfg.SoundEnabled {
			t.Error("expected sound disabled")
		}
		if cfg.Language != DefaultLanguage {
			t.Errorf("Language = %q, want %q", cfg.Language, DefaultLanguage)
		}
	})
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "42")
	t.Setenv("X_BAD_INT", "forty")
	t.Setenv("X_BOOL", "yes")
	t.Setenv("X_DUR", "3s")
	t.Setenv("X_LIST", "stun:a:3478, ,turn:b")

	if got := envInt("X_INT", 1); got != 42 {
		t.Errorf("envInt = %d, want 42", got)
	}
	if got := envInt("X_BAD_INT", 7); got != 7 {
		t.Errorf("envInt fallback = %d, want 7", got)
	}
	if !envBool("X_BOOL", false) {
		t.Error("envBool = false, want true")
	}
	if got := envDuration("X_DUR", time.Second); got != 3*time.Second {
		t.Errorf("envDuration = %v, want 3s", got)
	}
	if got := envList("X_LIST"); len(got) != 2 || got[1] != "turn:b" {
		t.Errorf("envList = %v, want [stun:a:3478 turn:b]", got)
	}
	if got := envOr("X_UNSET_KEY", "fallback"); got != "fallback" {
		t.Errorf("envOr = %q, want fallback", got)
	}
}
