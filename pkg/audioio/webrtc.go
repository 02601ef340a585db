package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusSampleRate = 48000
	// 120ms is the longest Opus frame.
	opusMaxFrame = opusSampleRate * 120 / 1000
)

// ErrNoPeer is returned by Negotiate after the source is closed.
var ErrNoPeer = errors.New("audioio: webrtc source closed")

// WebRTCSource receives a browser microphone as an Opus WebRTC track and
// exposes it as decoded PCM16 chunks.
//
// Start only arms the source; chunks flow once Negotiate has accepted an
// offer and the remote track arrives. A renegotiation replaces the peer.
type WebRTCSource struct {
	cfg    Config
	logger *slog.Logger
	ice    []webrtc.ICEServer

	mu       sync.Mutex
	running  bool
	closed   bool
	pc       *webrtc.PeerConnection
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewWebRTCSource creates a WebRTC-backed source. iceURLs may be empty for
// LAN use.
func NewWebRTCSource(cfg Config, logger *slog.Logger, iceURLs ...string) *WebRTCSource {
	if logger == nil {
		logger = slog.Default()
	}
	var ice []webrtc.ICEServer
	if len(iceURLs) > 0 {
		ice = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return &WebRTCSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.webrtc_source"),
		ice:      ice,
		streamCh: make(chan AudioChunk, 64),
	}
}

// Negotiate accepts an SDP offer from the browser and returns the answer.
// It waits for ICE gathering so the answer carries all candidates.
func (s *WebRTCSource) Negotiate(ctx context.Context, offerSDP string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrNoPeer
	}
	old := s.pc
	s.pc = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: s.ice})
	if err != nil {
		return "", fmt.Errorf("new peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.logger.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go s.consume(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("peer connection state", "state", state.String())
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return "", ctx.Err()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pc.Close()
		return "", ErrNoPeer
	}
	s.pc = pc
	s.mu.Unlock()

	return pc.LocalDescription().SDP, nil
}

func (s *WebRTCSource) consume(track *webrtc.TrackRemote) {
	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
		s.logger.Warn("unsupported audio codec", "codec", track.Codec().MimeType)
		return
	}

	channels := int(track.Codec().Channels)
	if channels <= 0 {
		channels = 1
	}
	dec, err := opus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		s.logger.Error("opus decoder", "error", err)
		return
	}

	pcm := make([]int16, opusMaxFrame*channels)
	var pkt *rtp.Packet
	for {
		pkt, _, err = track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("track read ended", "error", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			s.logger.Debug("opus decode failed", "error", err, "seq", pkt.SequenceNumber)
			continue
		}

		frame := AudioChunk{
			Samples:    append([]int16(nil), pcm[:n*channels]...),
			SampleRate: opusSampleRate,
			Channels:   channels,
			Captured:   time.Now(),
		}.Mono()
		frame.Samples = Resample(frame.Samples, opusSampleRate, s.cfg.SampleRate)
		frame.SampleRate = s.cfg.SampleRate

		s.emit(frame)
	}
}

func (s *WebRTCSource) emit(chunk AudioChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case s.streamCh <- chunk:
		s.chunksRead.Add(1)
		s.samplesRead.Add(int64(len(chunk.Samples)))
	default:
		s.overruns.Add(1)
	}
}

// Start arms the source. Audio flows once a peer delivers a track.
func (s *WebRTCSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	s.running = true
	s.streamCh = make(chan AudioChunk, 64)
	return nil
}

// Stop disarms the source; the peer connection stays up.
func (s *WebRTCSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.streamCh)
	return nil
}

// Read reads the next audio chunk.
func (s *WebRTCSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()

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
func (s *WebRTCSource) Config() Config {
	return s.cfg
}

// Name returns "webrtc".
func (s *WebRTCSource) Name() string {
	return string(BackendWebRTC)
}

// Close stops the source and tears down the peer connection.
func (s *WebRTCSource) Close() error {
	s.Stop()

	s.mu.Lock()
	s.closed = true
	pc := s.pc
	s.pc = nil
	s.mu.Unlock()

	if pc != nil {
		return pc.Close()
	}
	return nil
}

// Stats returns source statistics.
func (s *WebRTCSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendWebRTC),
	}
}

var _ SourceWithStats = (*WebRTCSource)(nil)
