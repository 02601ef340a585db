//go:build integration

package tts_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/teslashibe/go-galina/pkg/tts"
)

// Run with: go test -tags=integration -v ./pkg/tts/...
func TestProvidersIntegration(t *testing.T) {
	providers := map[string]func() (tts.Provider, error){
		"gateway": func() (tts.Provider, error) {
			if os.Getenv("GALINA_GATEWAY_URL") == "" {
				return nil, nil
			}
			return tts.NewGateway(tts.WithBaseURL(os.Getenv("GALINA_GATEWAY_URL")), tts.WithAPIKey(os.Getenv("GALINA_TOKEN")))
		},
		"openai": func() (tts.Provider, error) {
			if os.Getenv("OPENAI_API_KEY") == "" {
				return nil, nil
			}
			return tts.NewOpenAI(tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
		},
		"elevenlabs_ws": func() (tts.Provider, error) {
			if os.Getenv("ELEVENLABS_API_KEY") == "" {
				return nil, nil
			}
			return tts.NewElevenLabsWS(tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")), tts.WithVoice(tts.DefaultVoice))
		},
	}

	for name, build := range providers {
		t.Run(name, func(t *testing.T) {
			provider, err := build()
			if err != nil {
				t.Fatalf("create provider: %v", err)
			}
			if provider == nil {
				t.Skip("credentials not set")
			}
			defer provider.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := provider.Synthesize(ctx, "Здравствуйте! Я Галина, ваш юридический консультант.")
			if err != nil {
				t.Fatalf("synthesize failed: %v", err)
			}
			t.Logf("synthesized %d bytes (%s) in %dms", len(result.Audio), result.Format.Encoding, result.LatencyMs)
			if len(result.Audio) < 1000 {
				t.Error("audio too short, expected at least 1KB")
			}
		})
	}
}
