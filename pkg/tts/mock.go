package tts

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"
)

// Mock implements Provider for testing.
type Mock struct {
	// SynthesizeFunc is called by Synthesize and, when StreamFunc is nil,
	// by Stream. If nil, Synthesize returns silence.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	StreamFunc func(ctx context.Context, text string) (AudioStream, error)
	HealthFunc func(ctx context.Context) error

	mu     sync.Mutex
	calls  []MockCall
	closed bool
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock returns a mock producing 20 ms of 24 kHz silence per rune.
func NewMock() *Mock {
	return &Mock{SynthesizeFunc: Silence(20 * time.Millisecond)}
}

// Silence returns a SynthesizeFunc producing perRune of silence per rune.
func Silence(perRune time.Duration) func(ctx context.Context, text string) (*AudioResult, error) {
	return func(ctx context.Context, text string) (*AudioResult, error) {
		runes := utf8.RuneCountInString(text)
		duration := time.Duration(runes) * perRune
		samples := int(duration * 24000 / time.Second)
		return &AudioResult{
			Audio:     make([]byte, samples*2),
			Format:    pcmFormat(EncodingPCM24),
			Duration:  duration,
			CharCount: runes,
			LatencyMs: 1,
		}, nil
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.record("Synthesize", text)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return Silence(20*time.Millisecond)(ctx, text)
}

// Stream calls StreamFunc, or wraps the Synthesize result.
func (m *Mock) Stream(ctx context.Context, text string) (AudioStream, error) {
	m.record("Stream", text)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, text)
	}
	synth := m.SynthesizeFunc
	if synth == nil {
		synth = Silence(20 * time.Millisecond)
	}
	result, err := synth(ctx, text)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text, Time: time.Now()})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns how many times method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return nil, err
		},
		StreamFunc: func(ctx context.Context, text string) (AudioStream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency makes every Synthesize call wait delay first.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	inner := m.SynthesizeFunc
	if inner == nil {
		inner = Silence(20 * time.Millisecond)
	}
	m.SynthesizeFunc = func(ctx context.Context, text string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return inner(ctx, text)
	}
	return m
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
