package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates a sine wave whose amplitude can be changed while running,
// which lets tests simulate a user starting and stopping speech.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}
	startErr error

	starts atomic.Int64
	stops  atomic.Int64

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	phase     float64
	frequency float64 // Hz
	amplitude atomic.Uint64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the tone and its initial amplitude (0.0 to 1.0).
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude.Store(math.Float64bits(amplitude))
	}
}

// WithStartError makes every Start call fail with err.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a new mock audio source producing silence by default.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger.With("component", "audioio.mock_source"),
		streamCh:  make(chan AudioChunk, 64),
		stopCh:    make(chan struct{}),
		frequency: 440,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetAmplitude changes the generated amplitude (0 = silence).
func (m *MockSource) SetAmplitude(amplitude float64) {
	m.amplitude.Store(math.Float64bits(amplitude))
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.startErr != nil {
		return m.startErr
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 64)
	m.starts.Add(1)

	go m.generateLoop(ctx, m.stopCh, m.streamCh)

	m.logger.Debug("mock audio source started", "sample_rate", m.cfg.SampleRate)
	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh chan struct{}, out chan AudioChunk) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			chunk := m.generateChunk()
			m.mu.Lock()
			if !m.running || m.stopCh != stopCh {
				m.mu.Unlock()
				return
			}
			select {
			case out <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				m.overruns.Add(1)
			}
			m.mu.Unlock()
		}
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	frames := m.cfg.BufferSize()
	channels := m.cfg.Channels
	samples := make([]int16, frames*channels)
	amplitude := math.Float64frombits(m.amplitude.Load())

	if amplitude > 0 && m.frequency > 0 {
		for i := 0; i < frames; i++ {
			v := int16(amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < channels; ch++ {
				samples[i*channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   channels,
		Captured:   time.Now(),
	}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.stops.Add(1)
	close(m.stopCh)
	close(m.streamCh)
	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return string(BackendMock)
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// StartCount returns how many times Start succeeded.
func (m *MockSource) StartCount() int {
	return int(m.starts.Load())
}

// StopCount returns how many times a running source was stopped.
func (m *MockSource) StopCount() int {
	return int(m.stops.Load())
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     string(BackendMock),
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink is a mock audio sink for testing.
// It records written audio and simulates playback time in Flush.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	buffer  []AudioChunk
	played  int64
	clears  int

	// FlushDelay is how long Flush pretends playback takes.
	FlushDelay time.Duration

	// FlushErr, if set, is returned by Flush.
	FlushErr error
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.mock_sink"),
		buffer: make([]AudioChunk, 0, 16),
	}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Write accepts an audio chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	m.buffer = append(m.buffer, chunk)
	return nil
}

// Flush waits FlushDelay, or until ctx is done, then drops the buffer.
func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	delay := m.FlushDelay
	flushErr := m.FlushErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if flushErr != nil {
		return flushErr
	}

	m.mu.Lock()
	for _, c := range m.buffer {
		m.played += int64(len(c.Samples))
	}
	m.buffer = m.buffer[:0]
	m.mu.Unlock()
	return nil
}

// Clear discards buffered audio.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = m.buffer[:0]
	m.clears++
	return nil
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return string(BackendMock)
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.running = false
	m.mu.Unlock()
	return nil
}

// PlayedSamples returns the number of samples that were flushed.
func (m *MockSink) PlayedSamples() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.played
}

// ClearCount returns how many times Clear was called.
func (m *MockSink) ClearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

var _ Sink = (*MockSink)(nil)
