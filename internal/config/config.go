// Package config loads process configuration for go-galina commands.
// Values come from the environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults used when the environment leaves a value unset.
const (
	DefaultHTTPAddr    = ":8080"
	DefaultLanguage    = "ru"
	DefaultReplyModel  = "gpt-4o-mini"
	DefaultSTTModel    = "whisper-1"
	DefaultTTSVoice    = "shimmer"
	DefaultAudioDevice = "default"
)

// Config is the resolved process configuration.
type Config struct {
	// Product gateway. When set, reply, transcription and synthesis
	// go through it instead of calling providers directly.
	GatewayURL string
	Token      string

	OpenAIKey   string
	OpenAIBase  string
	ReplyModel  string
	STTModel    string
	TTSVoice    string
	Language    string
	Temperature float64

	ElevenLabsKey   string
	ElevenLabsVoice string
	ElevenLabsWS    bool

	AudioBackend string
	AudioDevice  string
	SampleRate   int

	// Device check overrides. The Go process cannot sniff a browser, so
	// the embedding UI passes its user agent and capability through.
	UserAgent         string
	NativeRecognition bool

	// ICEURLs are STUN/TURN servers for the WebRTC microphone backend.
	ICEURLs []string

	HTTPAddr     string
	StaticDir    string
	SoundEnabled bool
	GreetDelay   time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleTokenPath    string

	LogLevel  string
	LogFormat string
}

// Load reads .env files (missing files are ignored) and the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		GatewayURL:         strings.TrimRight(envOr("GALINA_GATEWAY_URL", ""), "/"),
		Token:              envOr("GALINA_TOKEN", ""),
		OpenAIKey:          envOr("OPENAI_API_KEY", ""),
		OpenAIBase:         envOr("OPENAI_BASE_URL", ""),
		ReplyModel:         envOr("GALINA_REPLY_MODEL", DefaultReplyModel),
		STTModel:           envOr("GALINA_STT_MODEL", DefaultSTTModel),
		TTSVoice:           envOr("GALINA_TTS_VOICE", DefaultTTSVoice),
		Language:           envOr("GALINA_LANGUAGE", DefaultLanguage),
		Temperature:        envFloat("GALINA_TEMPERATURE", 0.7),
		ElevenLabsKey:      envOr("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoice:    envOr("ELEVENLABS_VOICE_ID", ""),
		ElevenLabsWS:       envBool("ELEVENLABS_WEBSOCKET", false),
		AudioBackend:       envOr("GALINA_AUDIO_BACKEND", "auto"),
		AudioDevice:        envOr("GALINA_AUDIO_DEVICE", DefaultAudioDevice),
		SampleRate:         envInt("GALINA_SAMPLE_RATE", 24000),
		UserAgent:          envOr("GALINA_USER_AGENT", ""),
		NativeRecognition:  envBool("GALINA_NATIVE_RECOGNITION", false),
		ICEURLs:            envList("GALINA_ICE_URLS"),
		HTTPAddr:           envOr("GALINA_HTTP_ADDR", DefaultHTTPAddr),
		StaticDir:          envOr("GALINA_STATIC_DIR", ""),
		SoundEnabled:       envBool("GALINA_SOUND", true),
		GreetDelay:         envDuration("GALINA_GREET_DELAY", time.Second),
		GoogleClientID:     envOr("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: envOr("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  envOr("GOOGLE_REDIRECT_URL", ""),
		GoogleTokenPath:    envOr("GOOGLE_TOKEN_PATH", ""),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that at least one way to reach the remote services exists.
func (c *Config) Validate() error {
	if c.GatewayURL == "" && c.OpenAIKey == "" {
		return errors.New("config: GALINA_GATEWAY_URL or OPENAI_API_KEY is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: GALINA_SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	return nil
}

// UseGateway reports whether remote calls go through the product gateway.
func (c *Config) UseGateway() bool {
	return c.GatewayURL != ""
}

// ExportEnabled reports whether Google Docs export credentials are present.
func (c *Config) ExportEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

// envList splits a comma separated value, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
