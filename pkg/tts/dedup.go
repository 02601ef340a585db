package tts

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Dedup refuses to synthesize the same text twice in a row. The
// conversation calls ResetDedup whenever the user starts a new turn, so a
// repeated answer to a repeated question is still spoken.
type Dedup struct {
	Provider

	logger *slog.Logger

	mu   sync.Mutex
	last string
}

// NewDedup wraps p.
func NewDedup(p Provider, logger *slog.Logger) *Dedup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dedup{Provider: p, logger: logger.With("component", "tts.dedup")}
}

// Synthesize returns ErrDuplicate if text matches the previous request.
func (d *Dedup) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if err := d.claim(text); err != nil {
		return nil, err
	}
	return d.Provider.Synthesize(ctx, text)
}

// Stream returns ErrDuplicate if text matches the previous request.
func (d *Dedup) Stream(ctx context.Context, text string) (AudioStream, error) {
	if err := d.claim(text); err != nil {
		return nil, err
	}
	return d.Provider.Stream(ctx, text)
}

// ResetDedup forgets the previous text.
func (d *Dedup) ResetDedup() {
	d.mu.Lock()
	d.last = ""
	d.mu.Unlock()
}

func (d *Dedup) claim(text string) error {
	key := strings.TrimSpace(text)
	d.mu.Lock()
	defer d.mu.Unlock()
	if key != "" && key == d.last {
		d.logger.Debug("skipping duplicate synthesis", "chars", len([]rune(key)))
		return ErrDuplicate
	}
	d.last = key
	return nil
}

var _ Provider = (*Dedup)(nil)
