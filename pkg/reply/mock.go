package reply

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// CompleteFunc is called when Complete is invoked. The default echoes
	// the last user message.
	CompleteFunc func(ctx context.Context, req *Request) (*Response, error)

	// StreamFunc is called when Stream is invoked. The default streams the
	// CompleteFunc result word by word.
	StreamFunc func(ctx context.Context, req *Request) (Stream, error)

	mu       sync.Mutex
	calls    []MockCall
	requests []*Request
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock that answers every request with text. An empty
// text echoes the last user message.
func NewMock(text string) *Mock {
	m := &Mock{}
	m.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		out := text
		if out == "" {
			out = lastUser(req)
		}
		return &Response{Text: out, Model: "mock"}, nil
	}
	return m
}

// Name returns "mock".
func (m *Mock) Name() string {
	return "mock"
}

// Complete calls CompleteFunc and records the call.
func (m *Mock) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.record("Complete", req)
	if m.CompleteFunc == nil {
		return &Response{}, nil
	}
	return m.CompleteFunc(ctx, req)
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, req *Request) (Stream, error) {
	m.record("Stream", req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	resp := &Response{}
	if m.CompleteFunc != nil {
		var err error
		if resp, err = m.CompleteFunc(ctx, req); err != nil {
			return nil, err
		}
	}
	return NewSliceStream(strings.SplitAfter(resp.Text, " ")...), nil
}

func (m *Mock) record(method string, req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
	m.requests = append(m.requests, req)
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of calls to a method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Requests returns every request received, in order.
func (m *Mock) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Request(nil), m.requests...)
}

// WithError makes every call fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		return nil, err
	}
	return m
}

// WithLatency delays every reply, honoring cancellation.
func (m *Mock) WithLatency(d time.Duration) *Mock {
	inner := m.CompleteFunc
	m.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		if inner == nil {
			return &Response{}, nil
		}
		return inner(ctx, req)
	}
	return m
}

// WithReplies answers successive calls with the given texts; the last one
// repeats.
func (m *Mock) WithReplies(texts ...string) *Mock {
	var mu sync.Mutex
	i := 0
	m.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(texts) == 0 {
			return &Response{}, nil
		}
		text := texts[min(i, len(texts)-1)]
		i++
		return &Response{Text: text, Model: "mock"}, nil
	}
	return m
}

func lastUser(req *Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

// SliceStream replays fixed chunks.
type SliceStream struct {
	chunks []string
	closed bool
}

// NewSliceStream returns a Stream over chunks.
func NewSliceStream(chunks ...string) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Recv returns the next chunk or io.EOF.
func (s *SliceStream) Recv() (string, error) {
	if s.closed || len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// Close ends the stream.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

var _ Provider = (*Mock)(nil)
