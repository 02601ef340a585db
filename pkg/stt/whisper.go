package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-galina/internal/httpc"
)

const providerWhisper = "whisper"

// Whisper transcribes through the OpenAI audio API.
type Whisper struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// NewWhisper creates a Whisper provider.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = cfg.HTTPClient
	if clientCfg.HTTPClient == nil {
		clientCfg.HTTPClient = httpc.NewClient(cfg.Timeout)
	}

	return &Whisper{
		config: cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: cfg.Logger.With("component", "stt.whisper"),
	}, nil
}

// Name returns the provider name.
func (w *Whisper) Name() string {
	return providerWhisper
}

// Transcribe uploads the chunk and returns its transcript.
func (w *Whisper) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, WrapError(providerWhisper, ErrEmptyAudio)
	}
	lang := req.Language
	if lang == "" {
		lang = w.config.Language
	}

	return withRetry(ctx, w.config, w.logger, func() (*Result, error) {
		start := time.Now()
		resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    w.config.Model,
			FilePath: req.filename(),
			Reader:   bytes.NewReader(req.Audio),
			Language: lang,
			Prompt:   req.Prompt,
		})
		if err != nil {
			return nil, w.convertError(err)
		}

		latency := time.Since(start).Milliseconds()
		text := strings.TrimSpace(resp.Text)
		w.logger.Debug("transcribed audio",
			"bytes", len(req.Audio),
			"chars", len(text),
			"latency_ms", latency,
		)

		return &Result{
			Text:      text,
			Language:  lang,
			Duration:  time.Duration(resp.Duration * float64(time.Second)),
			LatencyMs: latency,
		}, nil
	})
}

// convertError maps go-openai errors onto APIError so retry decisions
// work the same for every provider.
func (w *Whisper) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Provider: providerWhisper}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: fmt.Sprint(reqErr.Err), Provider: providerWhisper}
	}
	return WrapError(providerWhisper, err)
}

// Verify Whisper implements Provider at compile time.
var _ Provider = (*Whisper)(nil)
