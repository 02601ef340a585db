package reply

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Result is the outcome of Service.Reply.
type Result struct {
	Text string

	// Attempts is the number of provider calls made.
	Attempts int

	// Fallback is set when Text is a canned apology rather than a model reply.
	Fallback bool

	LatencyMs int64
}

// Service answers user utterances with conversation context.
type Service struct {
	provider Provider
	config   *Config
	logger   *slog.Logger

	mu       sync.Mutex
	history  []Message
	inFlight map[string]struct{}
	profile  *Profile
}

// NewService wraps a provider.
func NewService(provider Provider, opts ...Option) *Service {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Service{
		provider: provider,
		config:   cfg,
		logger:   cfg.Logger.With("component", "reply.service", "provider", provider.Name()),
		inFlight: make(map[string]struct{}),
	}
}

// LoadProfile fetches the client profile from store and keeps it as
// memory for later requests. A failure leaves the service without memory.
func (s *Service) LoadProfile(ctx context.Context, store ProfileStore) error {
	p, err := store.LoadProfile(ctx)
	if err != nil {
		s.logger.Warn("profile load failed", "error", err)
		s.SetProfile(nil)
		return err
	}
	s.SetProfile(p)
	s.logger.Info("profile loaded")
	return nil
}

// SetProfile replaces the client profile.
func (s *Service) SetProfile(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

// Profile returns a copy of the client profile, or nil.
func (s *Service) Profile() *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	p.Interests = append([]string(nil), s.profile.Interests...)
	return &p
}

// Reply answers text. Empty or failed provider replies are retried with a
// rephrased prompt and, once attempts run out, replaced by a spoken
// apology, so the only errors are ErrEmptyText, ErrInFlight and
// cancellation of ctx.
func (s *Service) Reply(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	s.mu.Lock()
	if _, busy := s.inFlight[text]; busy {
		s.mu.Unlock()
		s.logger.Debug("skipping duplicate request", "text", text)
		return nil, ErrInFlight
	}
	s.inFlight[text] = struct{}{}
	s.history = append(s.history, NewUserMessage(text))
	base := s.buildMessages()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, text)
		s.mu.Unlock()
	}()

	start := time.Now()
	lastWasError := false

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		messages := base
		if attempt > 0 {
			messages = append([]Message(nil), base...)
			messages[len(messages)-1] = NewUserMessage(rephrase(text, attempt))
		}

		reply, err := s.ask(ctx, messages)
		var backoff time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastWasError = true
			backoff = s.config.ErrorBackoff
			s.logger.Warn("reply attempt failed", "attempt", attempt+1, "error", err)
		case reply == "":
			lastWasError = false
			backoff = s.config.EmptyBackoff * time.Duration(1<<attempt)
			s.logger.Warn("empty reply", "attempt", attempt+1)
		default:
			s.accept(text, reply)
			latency := time.Since(start).Milliseconds()
			s.logger.Info("reply ready", "attempts", attempt+1, "chars", len(reply), "latency_ms", latency)
			return &Result{Text: reply, Attempts: attempt + 1, LatencyMs: latency}, nil
		}

		if attempt == s.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	fallback := FallbackEmpty
	if lastWasError {
		fallback = FallbackError
	}
	s.logger.Error("reply attempts exhausted", "attempts", s.config.MaxRetries+1, "provider_error", lastWasError)
	return &Result{
		Text:      fallback,
		Attempts:  s.config.MaxRetries + 1,
		Fallback:  true,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) ask(ctx context.Context, messages []Message) (string, error) {
	req := &Request{Messages: messages}
	if s.config.Streaming {
		stream, err := s.provider.Stream(ctx, req)
		if err != nil {
			return "", err
		}
		text, err := Collect(stream)
		return strings.TrimSpace(text), err
	}
	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// accept records a model reply and lets the profile learn from the turn.
func (s *Service) accept(userText, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, NewAssistantMessage(reply))
	if s.profile != nil && s.profile.Observe(userText) {
		s.logger.Debug("profile updated", "case_type", s.profile.CaseType)
	}
}

// buildMessages assembles prompt, memory and recent history. Callers hold mu.
func (s *Service) buildMessages() []Message {
	messages := []Message{NewSystemMessage(s.config.SystemPrompt)}
	if memory := s.profile.Memory(); memory != "" {
		messages = append(messages, NewSystemMessage(memoryHeader+memory))
	}
	recent := s.history
	if limit := s.config.HistoryLimit; limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	return append(messages, recent...)
}

// AddMessage appends a message to the history without asking the model,
// e.g. the spoken greeting.
func (s *Service) AddMessage(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: role, Content: content})
}

// History returns a copy of the conversation so far.
func (s *Service) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Clear forgets the conversation.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// IsFallback reports whether text is one of the canned apologies.
func IsFallback(text string) bool {
	return text == FallbackEmpty || text == FallbackError
}
