package audioio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ALSASource captures audio by streaming raw PCM from arecord.
type ALSASource struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newALSASource(cfg Config, logger *slog.Logger) (*ALSASource, error) {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return &ALSASource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.alsa_source", "device", device),
		device: device,
	}, nil
}

func (s *ALSASource) args() []string {
	return []string{
		"-q",
		"-D", s.device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	}
}

// Start launches arecord and waits for the first buffer so that device
// errors surface here rather than in Read.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, "arecord", s.args()...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("arecord stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: arecord not installed", ErrDeviceNotFound)
		}
		return fmt.Errorf("start arecord: %w", err)
	}

	first := make([]byte, s.cfg.BufferBytes())
	if _, err := io.ReadFull(stdout, first); err != nil {
		cancel()
		cmd.Wait()
		return classifyALSAError(stderr.String(), err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.running = true
	s.streamCh = make(chan AudioChunk, 32)

	go s.captureLoop(ctx, stdout, first, s.streamCh)

	s.logger.Info("capture started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"echo_cancellation", s.cfg.Constraints.EchoCancellation,
	)
	return nil
}

func (s *ALSASource) captureLoop(ctx context.Context, stdout io.Reader, first []byte, out chan AudioChunk) {
	defer close(out)

	emit := func(buf []byte) {
		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		chunk.Captured = time.Now()
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}

	emit(first)
	for {
		if ctx.Err() != nil {
			s.Stop()
			return
		}
		buf := make([]byte, s.cfg.BufferBytes())
		if _, err := io.ReadFull(stdout, buf); err != nil {
			s.logger.Debug("capture stream ended", "error", err)
			return
		}
		emit(buf)
	}
}

// Stop kills arecord. It is safe to call Stop multiple times.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	s.cmd.Wait()
	s.cmd = nil
	s.logger.Info("capture stopped")
	return nil
}

// Read reads the next audio chunk.
func (s *ALSASource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()
	if ch == nil {
		return AudioChunk{}, io.EOF
	}

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
func (s *ALSASource) Config() Config {
	return s.cfg
}

// Name returns "alsa".
func (s *ALSASource) Name() string {
	return string(BackendALSA)
}

// Close stops capture and prevents restarts.
func (s *ALSASource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *ALSASource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendALSA),
	}
}

var _ SourceWithStats = (*ALSASource)(nil)

// classifyALSAError maps arecord/aplay diagnostics onto device errors.
func classifyALSAError(stderr string, cause error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case strings.Contains(lower, "device or resource busy"):
		return fmt.Errorf("%w: %s", ErrDeviceBusy, msg)
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "cannot find card"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, msg)
	case msg != "":
		return fmt.Errorf("audioio: %s: %w", msg, cause)
	default:
		return fmt.Errorf("audioio: device closed: %w", cause)
	}
}

// ALSASink plays PCM by piping it into aplay.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

func newALSASink(cfg Config, logger *slog.Logger) (*ALSASink, error) {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return &ALSASink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.alsa_sink", "device", device),
		device: device,
	}, nil
}

// Start is a no-op; aplay is launched on the first Write.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return nil
}

func (s *ALSASink) startLocked() error {
	cmd := exec.Command("aplay", "-q",
		"-D", s.device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("aplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start aplay: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// Write streams a chunk to aplay, resampling to the sink rate if needed.
func (s *ALSASink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.cmd == nil {
		if err := s.startLocked(); err != nil {
			return err
		}
	}

	mono := chunk.Mono()
	samples := Resample(mono.Samples, mono.SampleRate, s.cfg.SampleRate)
	if _, err := s.stdin.Write(SamplesToBytes(samples)); err != nil {
		s.killLocked()
		return fmt.Errorf("write to aplay: %w", err)
	}
	return nil
}

// Flush closes aplay's input and waits for it to drain.
func (s *ALSASink) Flush(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil {
		s.mu.Unlock()
		return nil
	}
	s.stdin.Close()
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		s.Clear()
		return ctx.Err()
	case err := <-done:
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
		return err
	}
}

// Clear kills aplay immediately, dropping any buffered audio.
func (s *ALSASink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return nil
}

func (s *ALSASink) killLocked() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		go s.cmd.Wait()
	}
	s.cmd = nil
}

// Stop drops any playing audio.
func (s *ALSASink) Stop() error {
	return s.Clear()
}

// Config returns the audio configuration.
func (s *ALSASink) Config() Config {
	return s.cfg
}

// Name returns "alsa".
func (s *ALSASink) Name() string {
	return string(BackendALSA)
}

// Close stops playback and prevents further writes.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.killLocked()
	s.mu.Unlock()
	return nil
}

var _ Sink = (*ALSASink)(nil)

// lockedBuffer collects subprocess stderr safely.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 4096 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
