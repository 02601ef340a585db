package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-galina/internal/httpc"
)

const providerGateway = "gateway"

// Gateway transcribes through the product API gateway, which accepts a
// multipart upload in the "audio" field and answers {"text": "..."}.
type Gateway struct {
	config *Config
	client *http.Client
	logger *slog.Logger
	url    string
}

// NewGateway creates a gateway provider. BaseURL is the gateway root.
func NewGateway(opts ...Option) (*Gateway, error) {
	cfg := DefaultConfig()
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
		logger: cfg.Logger.With("component", "stt.gateway"),
		url:    strings.TrimSuffix(cfg.BaseURL, "/") + "/api/transcribe",
	}, nil
}

// Name returns the provider name.
func (g *Gateway) Name() string {
	return providerGateway
}

// Transcribe uploads the chunk to the gateway.
func (g *Gateway) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, WrapError(providerGateway, ErrEmptyAudio)
	}
	lang := req.Language
	if lang == "" {
		lang = g.config.Language
	}

	return withRetry(ctx, g.config, g.logger, func() (*Result, error) {
		return g.do(ctx, req, lang)
	})
}

func (g *Gateway) do(ctx context.Context, req Request, lang string) (*Result, error) {
	start := time.Now()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("audio", req.filename())
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("create form: %w", err))
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("write form: %w", err))
	}
	if lang != "" {
		if err := form.WriteField("language", lang); err != nil {
			return nil, WrapError(providerGateway, fmt.Errorf("write form: %w", err))
		}
	}
	if err := form.Close(); err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("close form: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, &body)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	if g.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(providerGateway, err)
	}
	data, err := httpc.ReadBody(resp, 1<<20)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data)), Provider: providerGateway}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("decode response: %w", err))
	}

	latency := time.Since(start).Milliseconds()
	g.logger.Debug("transcribed audio", "bytes", len(req.Audio), "latency_ms", latency)

	return &Result{
		Text:      strings.TrimSpace(out.Text),
		Language:  lang,
		LatencyMs: latency,
	}, nil
}

// Verify Gateway implements Provider at compile time.
var _ Provider = (*Gateway)(nil)
