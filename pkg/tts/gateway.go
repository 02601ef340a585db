package tts

import (
	"bytes"
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

const providerGateway = "gateway"

// Gateway synthesizes through the product API gateway's /api/tts route,
// which proxies OpenAI speech and returns the audio body as-is.
type Gateway struct {
	config *Config
	client *http.Client
	logger *slog.Logger
	url    string
}

// NewGateway creates a gateway provider. BaseURL is the gateway root and
// APIKey the bearer token.
func NewGateway(opts ...Option) (*Gateway, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = "nova"
	cfg.ModelID = "tts-1-hd"
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Gateway{
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "tts.gateway"),
		url:    strings.TrimSuffix(cfg.BaseURL, "/") + "/api/tts",
	}, nil
}

type gatewayRequest struct {
	Text           string  `json:"text"`
	Voice          string  `json:"voice"`
	Model          string  `json:"model"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize posts text and returns the audio body.
func (g *Gateway) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerGateway, ErrEmptyText)
	}
	start := time.Now()

	body, err := json.Marshal(gatewayRequest{
		Text:           text,
		Voice:          g.config.VoiceID,
		Model:          g.config.ModelID,
		Speed:          g.config.Speed,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("marshal payload: %w", err))
	}

	headers := map[string]string{}
	if g.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + g.config.APIKey
	}
	resp, err := doWithRetry(ctx, g.client, g.config, g.logger, jsonRequest(ctx, g.url, body, headers), g.parseError)
	if err != nil {
		return nil, WrapError(providerGateway, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	format := detectFormat(resp.Header.Get("Content-Type"), audio)
	g.logger.Debug("synthesized audio",
		"chars", len([]rune(text)),
		"bytes", len(audio),
		"encoding", format.Encoding,
		"latency_ms", latency,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    format,
		Duration:  pcmDuration(len(audio), format.Encoding),
		CharCount: len([]rune(text)),
		LatencyMs: latency,
	}, nil
}

// Stream synthesizes the whole text and serves it as one chunk.
func (g *Gateway) Stream(ctx context.Context, text string) (AudioStream, error) {
	result, err := g.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health checks that the gateway answers.
func (g *Gateway) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(g.config.BaseURL, "/")+"/api/health", nil)
	if err != nil {
		return WrapError(providerGateway, err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return WrapError(providerGateway, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return g.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (g *Gateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

func (g *Gateway) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := strings.TrimSpace(string(body))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message, Provider: providerGateway}
}

// detectFormat identifies the audio container from the header or the
// leading bytes.
func detectFormat(contentType string, audio []byte) AudioFormat {
	switch {
	case bytes.HasPrefix(audio, []byte("RIFF")):
		return AudioFormat{Encoding: EncodingWAV, Channels: 1, BitDepth: 16}
	case strings.Contains(contentType, "pcm"):
		return pcmFormat(EncodingPCM24)
	default:
		return AudioFormat{Encoding: EncodingMP3, SampleRate: 44100, Channels: 1}
	}
}

// Verify Gateway implements Provider at compile time.
var _ Provider = (*Gateway)(nil)
