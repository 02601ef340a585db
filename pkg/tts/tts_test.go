package tts_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-galina/internal/log"
	"github.com/teslashibe/go-galina/pkg/audioio"
	"github.com/teslashibe/go-galina/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	t.Run("Synthesize returns silence per rune", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, "Привет")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.CharCount != 6 {
			t.Errorf("expected 6 runes, got %d", result.CharCount)
		}
		if result.Duration != 120*time.Millisecond {
			t.Errorf("expected 120ms, got %v", result.Duration)
		}
		if want := 2 * 24000 * 120 / 1000; len(result.Audio) != want {
			t.Errorf("expected %d bytes, got %d", want, len(result.Audio))
		}
	})

	t.Run("Stream wraps Synthesize", func(t *testing.T) {
		stream, err := mock.Stream(ctx, "Тест")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer stream.Close()
		chunk, err := stream.Read()
		if err != nil || len(chunk) == 0 {
			t.Fatalf("Read() = %d bytes, %v", len(chunk), err)
		}
		if chunk, _ := stream.Read(); chunk != nil {
			t.Error("expected end of stream")
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		if mock.CallCount("Synthesize") != 1 || mock.CallCount("Stream") != 1 {
			t.Errorf("unexpected calls %+v", mock.Calls())
		}
	})
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := tts.WithError(testErr)
	ctx := context.Background()

	if _, err := mock.Synthesize(ctx, "Привет"); !errors.Is(err, testErr) {
		t.Errorf("Synthesize error = %v", err)
	}
	if _, err := mock.Stream(ctx, "Привет"); !errors.Is(err, testErr) {
		t.Errorf("Stream error = %v", err)
	}
	if err := mock.Health(ctx); !errors.Is(err, testErr) {
		t.Errorf("Health error = %v", err)
	}
}

func TestMockWithLatency(t *testing.T) {
	mock := tts.WithLatency(tts.NewMock(), 50*time.Millisecond)

	t.Run("waits", func(t *testing.T) {
		start := time.Now()
		if _, err := mock.Synthesize(context.Background(), "Да"); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("expected at least 50ms, got %v", elapsed)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := mock.Synthesize(ctx, "Да"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline error, got %v", err)
		}
	})
}

func TestConfigValidation(t *testing.T) {
	cfg := tts.DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
	cfg.APIKey = "key"
	if err := cfg.ValidateWithVoice(); !errors.Is(err, tts.ErrNoVoiceID) {
		t.Errorf("expected ErrNoVoiceID, got %v", err)
	}
	cfg.Apply(tts.WithVoice("galina"), tts.WithSpeed(1.1), tts.WithLogger(nil))
	if err := cfg.ValidateWithVoice(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if cfg.Speed != 1.1 || cfg.Logger == nil {
		t.Errorf("options not applied: speed=%v logger=%v", cfg.Speed, cfg.Logger)
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		err := &tts.APIError{StatusCode: tt.code}
		if got := err.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %t, want %t", tt.code, got, tt.want)
		}
	}
	if tts.IsRetryable(tts.WrapError("x", tts.ErrEmptyText)) {
		t.Error("empty text must not be retried")
	}
	if !tts.IsRetryable(errors.New("connection reset")) {
		t.Error("transport errors should be retried")
	}
}

func TestGateway(t *testing.T) {
	wav := audioio.EncodeWAV(make([]int16, 2400), 24000, 1)

	t.Run("posts text and detects WAV", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/tts" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("missing bearer token")
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write(wav)
		}))
		defer srv.Close()

		g, err := tts.NewGateway(tts.WithBaseURL(srv.URL+"/"), tts.WithAPIKey("tok"), tts.WithLogger(log.Discard()))
		if err != nil {
			t.Fatal(err)
		}
		result, err := g.Synthesize(context.Background(), "Добрый день")
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if result.Format.Encoding != tts.EncodingWAV {
			t.Errorf("encoding = %s, want wav", result.Format.Encoding)
		}
		if got["text"] != "Добрый день" || got["voice"] != "nova" || got["model"] != "tts-1-hd" {
			t.Errorf("unexpected payload %v", got)
		}
		if got["speed"] != 0.95 {
			t.Errorf("speed = %v, want 0.95", got["speed"])
		}
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "audio/pcm")
			_, _ = w.Write(make([]byte, 480))
		}))
		defer srv.Close()

		g, _ := tts.NewGateway(tts.WithBaseURL(srv.URL), tts.WithRetry(2, time.Millisecond), tts.WithLogger(log.Discard()))
		result, err := g.Synthesize(context.Background(), "Да, конечно")
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
		if result.Format.Encoding != tts.EncodingPCM24 || result.Duration != 10*time.Millisecond {
			t.Errorf("format = %+v duration = %v", result.Format, result.Duration)
		}
	})

	t.Run("backoff doubles between attempts", func(t *testing.T) {
		var mu sync.Mutex
		var hits []time.Time
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits = append(hits, time.Now())
			mu.Unlock()
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		g, _ := tts.NewGateway(tts.WithBaseURL(srv.URL), tts.WithRetry(3, 20*time.Millisecond), tts.WithLogger(log.Discard()))
		if _, err := g.Synthesize(context.Background(), "Да, конечно"); err == nil {
			t.Fatal("expected an error after exhausting retries")
		}

		mu.Lock()
		defer mu.Unlock()
		if len(hits) != 4 {
			t.Fatalf("hits = %d, want 4", len(hits))
		}
		for i, want := range []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond} {
			if gap := hits[i+1].Sub(hits[i]); gap < want {
				t.Errorf("gap before attempt %d = %v, want >= %v", i+2, gap, want)
			}
		}
	})

	t.Run("client errors are final", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"text too long"}`))
		}))
		defer srv.Close()

		g, _ := tts.NewGateway(tts.WithBaseURL(srv.URL), tts.WithRetry(3, time.Millisecond), tts.WithLogger(log.Discard()))
		_, err := g.Synthesize(context.Background(), "Очень длинный текст")
		var apiErr *tts.APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "text too long" {
			t.Fatalf("expected APIError, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("requires base URL", func(t *testing.T) {
		if _, err := tts.NewGateway(); !errors.Is(err, tts.ErrNoBaseURL) {
			t.Errorf("expected ErrNoBaseURL, got %v", err)
		}
	})
}

func TestOpenAI(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(make([]byte, 4800))
	}))
	defer srv.Close()

	o, err := tts.NewOpenAI(tts.WithAPIKey("sk"), tts.WithBaseURL(srv.URL+"/v1"), tts.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	result, err := o.Synthesize(context.Background(), "Здравствуйте")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.Duration != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", result.Duration)
	}
	if got["response_format"] != "pcm" || got["voice"] != "shimmer" || got["model"] != "tts-1-hd" {
		t.Errorf("unexpected request %v", got)
	}
}

func TestElevenLabs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "xi" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"bad key"}}`))
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/text-to-speech/XB0fDUnXU5powFXDhCwa") {
			t.Errorf("voice preset not resolved: %s", r.URL.Path)
		}
		// An odd byte count exercises sample alignment in the stream reader.
		_, _ = w.Write(make([]byte, 4801))
	}))
	defer srv.Close()

	t.Run("stream yields whole samples", func(t *testing.T) {
		e, err := tts.NewElevenLabs(tts.WithAPIKey("xi"), tts.WithVoice("galina"), tts.WithBaseURL(srv.URL), tts.WithLogger(log.Discard()))
		if err != nil {
			t.Fatal(err)
		}
		stream, err := e.Stream(context.Background(), "Слушаю вас")
		if err != nil {
			t.Fatal(err)
		}
		defer stream.Close()
		total := 0
		for {
			chunk, err := stream.Read()
			if err != nil {
				t.Fatal(err)
			}
			if chunk == nil {
				break
			}
			if len(chunk)%2 != 0 {
				t.Errorf("odd chunk length %d", len(chunk))
			}
			total += len(chunk)
		}
		if total != 4800 {
			t.Errorf("total = %d, want 4800", total)
		}
	})

	t.Run("maps API errors", func(t *testing.T) {
		e, _ := tts.NewElevenLabs(tts.WithAPIKey("wrong"), tts.WithVoice("galina"), tts.WithBaseURL(srv.URL), tts.WithLogger(log.Discard()))
		_, err := e.Synthesize(context.Background(), "Слушаю вас")
		var apiErr *tts.APIError
		if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() || apiErr.Code != "invalid_api_key" {
			t.Fatalf("expected unauthorized APIError, got %v", err)
		}
	})
}

func TestElevenLabsWS(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("output_format") != "pcm_24000" {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var text string
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s, _ := msg["text"].(string)
			if s == "" {
				break
			}
			text += s
		}
		if strings.TrimSpace(text) != "Чем могу помочь?" {
			t.Errorf("server got %q", text)
		}
		chunk := base64.StdEncoding.EncodeToString(make([]byte, 960))
		_ = conn.WriteJSON(map[string]any{"audio": chunk})
		_ = conn.WriteJSON(map[string]any{"audio": chunk, "isFinal": true})
	}))
	defer srv.Close()

	e, err := tts.NewElevenLabsWS(
		tts.WithAPIKey("xi"),
		tts.WithVoice("voice-id"),
		tts.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")),
		tts.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatal(err)
	}
	result, err := e.Synthesize(context.Background(), "Чем могу помочь?")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(result.Audio) != 1920 {
		t.Errorf("audio = %d bytes, want 1920", len(result.Audio))
	}
	if result.Duration != 40*time.Millisecond {
		t.Errorf("duration = %v, want 40ms", result.Duration)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("falls through to next provider", func(t *testing.T) {
		broken := tts.WithError(errors.New("down"))
		backup := tts.NewMock()
		chain, err := tts.NewChain(log.Discard(), broken, backup)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := chain.Synthesize(ctx, "Да"); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if backup.CallCount("Synthesize") != 1 {
			t.Error("backup provider not used")
		}
		if err := chain.Health(ctx); err != nil {
			t.Errorf("Health: %v", err)
		}
	})

	t.Run("aggregates failures", func(t *testing.T) {
		first, second := errors.New("first"), errors.New("second")
		chain, _ := tts.NewChain(nil, tts.WithError(first), tts.WithError(second))
		_, err := chain.Stream(ctx, "Да")
		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
			t.Fatalf("expected ChainError, got %v", err)
		}
		if !errors.Is(err, first) || !errors.Is(err, second) {
			t.Error("ChainError should unwrap to every provider error")
		}
	})

	t.Run("stops on input errors", func(t *testing.T) {
		backup := tts.NewMock()
		chain, _ := tts.NewChain(nil, tts.WithError(tts.WrapError("x", tts.ErrEmptyText)), backup)
		if _, err := chain.Synthesize(ctx, " "); !errors.Is(err, tts.ErrEmptyText) {
			t.Errorf("expected ErrEmptyText, got %v", err)
		}
		if backup.CallCount("Synthesize") != 0 {
			t.Error("backup should not see invalid input")
		}
	})

	t.Run("requires providers", func(t *testing.T) {
		if _, err := tts.NewChain(nil); !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	mock := tts.NewMock()
	d := tts.NewDedup(mock, log.Discard())

	if _, err := d.Synthesize(ctx, "Понятно."); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Synthesize(ctx, " Понятно. "); !errors.Is(err, tts.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, err := d.Stream(ctx, "Другой ответ"); err != nil {
		t.Errorf("different text rejected: %v", err)
	}

	d.ResetDedup()
	if _, err := d.Stream(ctx, "Другой ответ"); err != nil {
		t.Errorf("text rejected after reset: %v", err)
	}
	if got := mock.CallCount("Synthesize") + mock.CallCount("Stream"); got != 3 {
		t.Errorf("provider calls = %d, want 3", got)
	}
}

func TestStreamReadAfterCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	e, _ := tts.NewElevenLabsWS(tts.WithAPIKey("xi"), tts.WithVoice("v"),
		tts.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")), tts.WithLogger(log.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := e.Stream(ctx, "Прервите меня")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := stream.Read(); err == nil {
		t.Errorf("Read after cancel = %v, want an error", err)
	}
}
