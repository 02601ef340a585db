package reply

import (
	"bufio"
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
	providerGateway = "gateway"
	maxReplyBody    = 1 << 20
)

// Gateway talks to the product gateway's chat route. The gateway answers
// either a JSON document or, when it streams upstream, a server-sent event
// body; both shapes are accepted regardless of the requested mode.
type Gateway struct {
	config *Config
	client *http.Client
	stream *http.Client
	logger *slog.Logger
	url    string
}

// NewGateway creates a gateway provider. BaseURL is the gateway root and
// APIKey, when set, is sent as a bearer token.
func NewGateway(opts ...Option) (*Gateway, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	client, stream := cfg.HTTPClient, cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
		stream = httpc.NewClient(cfg.StreamTimeout)
	}

	return &Gateway{
		config: cfg,
		client: client,
		stream: stream,
		logger: cfg.Logger.With("component", "reply.gateway"),
		url:    strings.TrimSuffix(cfg.BaseURL, "/") + "/api/chat",
	}, nil
}

// Name returns the provider name.
func (g *Gateway) Name() string {
	return providerGateway
}

// Complete returns the whole reply.
func (g *Gateway) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	resp, err := g.post(ctx, g.client, req, false)
	if err != nil {
		return nil, err
	}
	body, err := httpc.ReadBody(resp, maxReplyBody)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("read body: %w", err))
	}

	out := &Response{
		Text:      ParseBody(body),
		Model:     g.model(req),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	g.logger.Debug("reply complete", "chars", len(out.Text), "latency_ms", out.LatencyMs)
	return out, nil
}

// Stream returns the reply incrementally.
func (g *Gateway) Stream(ctx context.Context, req *Request) (Stream, error) {
	resp, err := g.post(ctx, g.stream, req, true)
	if err != nil {
		return nil, err
	}
	return &sseStream{reader: bufio.NewReader(resp.Body), body: resp.Body}, nil
}

func (g *Gateway) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.config.Model
}

func (g *Gateway) post(ctx context.Context, client *http.Client, req *Request, stream bool) (*http.Response, error) {
	payload := chatPayload{
		Messages:    req.Messages,
		Model:       g.model(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = g.config.MaxTokens
	}
	if payload.Temperature == 0 {
		payload.Temperature = g.config.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := httpc.PostJSON(ctx, client, g.url, g.config.APIKey, body)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("chat request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := httpc.ReadBody(resp, 4096)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			Provider:   providerGateway,
		}
	}
	return resp, nil
}

type chatPayload struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_completion_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// replyDocument covers the JSON shapes the gateway has answered with.
type replyDocument struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Message string `json:"message"`
	Content string `json:"content"`
}

func (d *replyDocument) text() string {
	if len(d.Choices) > 0 {
		if c := d.Choices[0].Message.Content; c != "" {
			return c
		}
		if c := d.Choices[0].Delta.Content; c != "" {
			return c
		}
	}
	if d.Message != "" {
		return d.Message
	}
	return d.Content
}

// ParseBody extracts reply text from a gateway body. A JSON document
// yields choices[0].message.content, then message, then content. A body
// of "data:" lines is read as an event stream and its chunk contents are
// concatenated, skipping malformed chunks. Anything else yields "".
func ParseBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var doc replyDocument
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
		return strings.TrimSpace(doc.text())
	}

	if !strings.HasPrefix(trimmed, "data:") {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(trimmed, "\n") {
		delta, ok := parseEventLine(line)
		if ok {
			b.WriteString(delta)
		}
	}
	return strings.TrimSpace(b.String())
}

// parseEventLine decodes one "data: {...}" line. ok is false for
// non-data lines, the [DONE] marker and malformed payloads.
func parseEventLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" || data == "[DONE]" {
		return "", false
	}
	var doc replyDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return "", false
	}
	return doc.text(), true
}

// sseStream reads a server-sent event body chunk by chunk.
type sseStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

func (s *sseStream) Recv() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if line != "" {
			if strings.TrimSpace(line) == "data: [DONE]" {
				return "", io.EOF
			}
			if delta, ok := parseEventLine(line); ok {
				return delta, nil
			}
		}
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", WrapError(providerGateway, fmt.Errorf("read stream: %w", err))
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

var _ Provider = (*Gateway)(nil)
