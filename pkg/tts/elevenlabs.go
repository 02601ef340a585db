package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-galina/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs. Only the multilingual models speak Russian.
const (
	ModelFlashV2_5      = "eleven_flash_v2_5"
	ModelTurboV2_5      = "eleven_turbo_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs implements Provider over the ElevenLabs REST API.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewElevenLabs creates an ElevenLabs provider. VoiceID may be a preset
// name from Voices.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}
	cfg.VoiceID = ResolveVoice(cfg.VoiceID)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	client, stream := cfg.HTTPClient, cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
		stream = httpc.NewClient(cfg.StreamTimeout)
	}

	return &ElevenLabs{
		config:  cfg,
		client:  client,
		stream:  stream,
		logger:  cfg.Logger.With("component", "tts.elevenlabs"),
		baseURL: baseURL,
	}, nil
}

// Synthesize converts text to audio, returning the complete buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	start := time.Now()

	body, err := json.Marshal(e.payload(text))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}
	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", e.baseURL, e.config.VoiceID, e.config.OutputFormat)

	resp, err := doWithRetry(ctx, e.client, e.config, e.logger, jsonRequest(ctx, url, body, e.headers()), e.parseError)
	if err != nil {
		return nil, WrapError(providerElevenLabs, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	e.logger.Debug("synthesized audio",
		"chars", len([]rune(text)),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    pcmFormat(e.config.OutputFormat),
		Duration:  pcmDuration(len(audio), e.config.OutputFormat),
		CharCount: len([]rune(text)),
		LatencyMs: latency,
	}, nil
}

// Stream converts text to audio using the chunked streaming endpoint.
func (e *ElevenLabs) Stream(ctx context.Context, text string) (AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	body, err := json.Marshal(e.payload(text))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}
	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s", e.baseURL, e.config.VoiceID, e.config.OutputFormat)

	resp, err := doWithRetry(ctx, e.stream, e.config, e.logger, jsonRequest(ctx, url, body, e.headers()), e.parseError)
	if err != nil {
		return nil, WrapError(providerElevenLabs, err)
	}
	return &httpStream{body: resp.Body, format: pcmFormat(e.config.OutputFormat)}, nil
}

// Health checks API connectivity and key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabs, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	e.stream.CloseIdleConnections()
	return nil
}

// VoiceID returns the resolved voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.config.VoiceID
}

func (e *ElevenLabs) payload(text string) map[string]any {
	return map[string]any{
		"text":          text,
		"model_id":      e.config.ModelID,
		"language_code": "ru",
		"voice_settings": map[string]any{
			"stability":         e.config.VoiceSettings.Stability,
			"similarity_boost":  e.config.VoiceSettings.SimilarityBoost,
			"style":             e.config.VoiceSettings.Style,
			"use_speaker_boost": e.config.VoiceSettings.SpeakerBoost,
			"speed":             e.config.Speed,
		},
	}
}

func (e *ElevenLabs) headers() map[string]string {
	return map[string]string{
		"xi-api-key": e.config.APIKey,
		"Accept":     "audio/pcm",
	}
}

func (e *ElevenLabs) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}
	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
		code = errResp.Detail.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerElevenLabs,
	}
}

// httpStream exposes a chunked HTTP body as an AudioStream.
type httpStream struct {
	body   io.ReadCloser
	format AudioFormat
	buf    [4096]byte
	odd    []byte
}

// Read returns the next chunk, always a whole number of PCM16 samples.
func (s *httpStream) Read() ([]byte, error) {
	for {
		n, err := s.body.Read(s.buf[:])
		if n > 0 {
			data := append(s.odd, s.buf[:n]...)
			keep := len(data) &^ 1
			chunk := make([]byte, keep)
			copy(chunk, data[:keep])
			s.odd = append([]byte(nil), data[keep:]...)
			if len(chunk) > 0 {
				return chunk, nil
			}
		}
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close stops the stream.
func (s *httpStream) Close() error {
	return s.body.Close()
}

// Format returns the audio format.
func (s *httpStream) Format() AudioFormat {
	return s.format
}

// Verify ElevenLabs implements Provider at compile time.
var _ Provider = (*ElevenLabs)(nil)
