package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain tries providers in order; the first success wins.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain. At least one provider is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	return tryEach(ctx, c, text, Provider.Synthesize)
}

// Stream tries each provider until one opens a stream.
func (c *Chain) Stream(ctx context.Context, text string) (AudioStream, error) {
	return tryEach(ctx, c, text, Provider.Stream)
}

func tryEach[T any](ctx context.Context, c *Chain, text string, call func(Provider, context.Context, string) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for i, p := range c.providers {
		out, err := call(p, ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i)
			}
			return out, nil
		}
		// Input problems fail the same way everywhere.
		if errors.Is(err, ErrEmptyText) || errors.Is(err, ErrDuplicate) {
			return zero, err
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, &ChainError{Errors: errs}
}

// Health succeeds if any provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
}

// Close closes every provider and returns the last error.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChainError aggregates the errors of every provider in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "tts chain: no errors recorded"
	case 1:
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	default:
		return fmt.Sprintf("tts chain: all %d providers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
	}
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

// Verify Chain implements Provider at compile time.
var _ Provider = (*Chain)(nil)
