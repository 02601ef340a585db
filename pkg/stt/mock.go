package stt

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	TranscribeFunc func(ctx context.Context, req Request) (*Result, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Bytes int
	Time  time.Time
}

// NewMock creates a mock that returns text for every request.
func NewMock(text string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, req Request) (*Result, error) {
			return &Result{Text: text, Language: req.Language}, nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Bytes: len(req.Audio), Time: time.Now()})
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, req)
	}
	return &Result{}, nil
}

// Name returns "mock".
func (m *Mock) Name() string {
	return "mock"
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of Transcribe calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, req Request) (*Result, error) {
			return nil, err
		},
	}
}

// WithLatency wraps a mock so every call waits delay first.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	inner := m.TranscribeFunc
	m.TranscribeFunc = func(ctx context.Context, req Request) (*Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if inner != nil {
			return inner(ctx, req)
		}
		return &Result{}, nil
	}
	return m
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
