package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-galina/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI implements Provider with the OpenAI speech endpoint. Audio is
// requested as raw 24 kHz PCM so playback needs no decoder.
type OpenAI struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI speech provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = string(openai.TTSModel1HD)
	cfg.VoiceID = string(openai.VoiceShimmer)
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = string(openai.VoiceShimmer)
	}
	cfg.OutputFormat = EncodingPCM24

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = cfg.HTTPClient
	if clientCfg.HTTPClient == nil {
		clientCfg.HTTPClient = httpc.NewClient(cfg.Timeout)
	}

	return &OpenAI{
		config: cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: cfg.Logger.With("component", "tts.openai"),
	}, nil
}

// Synthesize converts text to 24 kHz PCM16.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
		}

		result, err := o.synthesize(ctx, text)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		o.logger.Warn("retrying request", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (o *OpenAI) synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.config.ModelID),
		Input:          text,
		Voice:          openai.SpeechVoice(o.config.VoiceID),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          o.config.Speed,
	})
	if err != nil {
		return nil, o.convertError(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len([]rune(text)),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.VoiceID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    pcmFormat(EncodingPCM24),
		Duration:  pcmDuration(len(audio), EncodingPCM24),
		CharCount: len([]rune(text)),
		LatencyMs: latency,
	}, nil
}

// Stream synthesizes the whole text and serves it as one chunk.
func (o *OpenAI) Stream(ctx context.Context, text string) (AudioStream, error) {
	result, err := o.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health lists models to verify the key.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.convertError(err)
	}
	return nil
}

// Close is a no-op.
func (o *OpenAI) Close() error {
	return nil
}

func (o *OpenAI) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Code: code, Provider: providerOpenAI}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: fmt.Sprint(reqErr.Err), Provider: providerOpenAI}
	}
	return WrapError(providerOpenAI, err)
}

// bufferStream serves a byte slice as an AudioStream.
type bufferStream struct {
	data   []byte
	offset int
	format AudioFormat
}

func (s *bufferStream) Read() ([]byte, error) {
	if s.offset >= len(s.data) {
		return nil, nil
	}
	chunk := s.data[s.offset:]
	s.offset = len(s.data)
	return chunk, nil
}

func (s *bufferStream) Close() error {
	return nil
}

func (s *bufferStream) Format() AudioFormat {
	return s.format
}

// Verify OpenAI implements Provider at compile time.
var _ Provider = (*OpenAI)(nil)
