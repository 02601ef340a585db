package reply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-galina/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI talks to the chat completions API directly.
type OpenAI struct {
	config *Config
	client *openai.Client
	stream *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates a direct OpenAI provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	newClient := func(timeout time.Duration) *openai.Client {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.HTTPClient != nil {
			oc.HTTPClient = cfg.HTTPClient
		} else {
			oc.HTTPClient = httpc.NewClient(timeout)
		}
		return openai.NewClientWithConfig(oc)
	}

	return &OpenAI{
		config: cfg,
		client: newClient(cfg.Timeout),
		stream: newClient(cfg.StreamTimeout),
		logger: cfg.Logger.With("component", "reply.openai"),
	}, nil
}

// Name returns the provider name.
func (o *OpenAI) Name() string {
	return providerOpenAI
}

// Complete returns the whole reply.
func (o *OpenAI) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	chatReq := o.buildRequest(req, false)

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}

	out := &Response{
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}

	o.logger.Debug("reply complete", "model", out.Model, "tokens", out.Usage.TotalTokens, "latency_ms", out.LatencyMs)
	return out, nil
}

// Stream returns the reply incrementally.
func (o *OpenAI) Stream(ctx context.Context, req *Request) (Stream, error) {
	chatReq := o.buildRequest(req, true)

	s, err := o.stream.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}
	return &openAIStream{stream: s}, nil
}

func (o *OpenAI) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.config.Temperature
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	return openai.ChatCompletionRequest{
		Model:               model,
		Messages:            messages,
		MaxCompletionTokens: maxTokens,
		Temperature:         float32(temperature),
		Stream:              stream,
	}
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		chunk, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", convertError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Provider:   providerOpenAI,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    fmt.Sprint(reqErr.Err),
			Provider:   providerOpenAI,
		}
	}
	return WrapError(providerOpenAI, err)
}

var _ Provider = (*OpenAI)(nil)
