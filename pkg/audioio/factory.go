package audioio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendALSA:
		return newALSASource(cfg, logger)
	case BackendWebRTC:
		return NewWebRTCSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink creates a new audio sink with the given configuration.
// WebRTC has no sink; playback for browser sessions uses ALSA or mock.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto || backend == BackendWebRTC {
		backend = detectBestBackend()
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendALSA:
		return newALSASink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func detectBestBackend() Backend {
	if runtime.GOOS == "linux" {
		return BackendALSA
	}
	return BackendMock
}

// AvailableBackends returns the list of backends available on this platform.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock, BackendWebRTC}
	if runtime.GOOS == "linux" {
		backends = append(backends, BackendALSA)
	}
	return backends
}
