package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBaseURL  = "wss://api.elevenlabs.io/v1/text-to-speech"
	providerElevenLabsWS = "elevenlabs_ws"
)

// ElevenLabsWS streams synthesis over the ElevenLabs stream-input
// WebSocket. Each utterance gets its own connection so an interrupted
// reply never leaks audio into the next one.
type ElevenLabsWS struct {
	config  *Config
	logger  *slog.Logger
	dialer  *websocket.Dialer
	baseURL string
}

// NewElevenLabsWS creates a WebSocket streaming provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}
	cfg.VoiceID = ResolveVoice(cfg.VoiceID)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	return &ElevenLabsWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs_ws"),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		baseURL: baseURL,
	}, nil
}

// Stream sends text and returns the audio as it arrives.
func (e *ElevenLabsWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerElevenLabsWS, ErrEmptyText)
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return nil, WrapError(providerElevenLabsWS, err)
	}

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        e.config.VoiceSettings.Stability,
				"similarity_boost": e.config.VoiceSettings.SimilarityBoost,
				"speed":            e.config.Speed,
			},
			"generation_config": map[string]any{
				"chunk_length_schedule": []int{120, 160, 250, 290},
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, msg := range messages {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, WrapError(providerElevenLabsWS, fmt.Errorf("send text: %w", err))
		}
	}

	s := &wsStream{
		conn:   conn,
		format: pcmFormat(e.config.OutputFormat),
		done:   make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	e.logger.Debug("streaming synthesis started", "chars", len([]rune(text)), "voice", e.config.VoiceID)
	return s, nil
}

// Synthesize streams text and collects the whole result.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()
	stream, err := e.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var audio []byte
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, WrapError(providerElevenLabsWS, err)
		}
		if chunk == nil {
			break
		}
		audio = append(audio, chunk...)
	}

	return &AudioResult{
		Audio:     audio,
		Format:    stream.Format(),
		Duration:  pcmDuration(len(audio), e.config.OutputFormat),
		CharCount: len([]rune(text)),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health opens and closes a connection.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return WrapError(providerElevenLabsWS, err)
	}
	return conn.Close()
}

// Close is a no-op; connections live only as long as their stream.
func (e *ElevenLabsWS) Close() error {
	return nil
}

func (e *ElevenLabsWS) dial(ctx context.Context) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", string(e.config.OutputFormat))
	target := fmt.Sprintf("%s/%s/stream-input?%s", e.baseURL, e.config.VoiceID, q.Encode())

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error(), Provider: providerElevenLabsWS}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// wsStream reads base64 audio frames until the server marks the final one.
type wsStream struct {
	conn   *websocket.Conn
	format AudioFormat

	once     sync.Once
	done     chan struct{}
	finished bool
}

func (s *wsStream) Read() ([]byte, error) {
	for !s.finished {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil, ErrStreamClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.finished = true
				return nil, nil
			}
			return nil, fmt.Errorf("read audio: %w", err)
		}

		var frame struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		if frame.Error != "" {
			return nil, fmt.Errorf("server error: %s: %s", frame.Error, frame.Message)
		}
		s.finished = frame.IsFinal
		if frame.Audio == "" {
			continue
		}
		audio, err := base64.StdEncoding.DecodeString(frame.Audio)
		if err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		return audio, nil
	}
	return nil, nil
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) Format() AudioFormat {
	return s.format
}

// Verify ElevenLabsWS implements Provider at compile time.
var _ Provider = (*ElevenLabsWS)(nil)
