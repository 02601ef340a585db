package main

import (
	"errors"
	"log/slog"

	"github.com/teslashibe/go-galina/internal/config"
	"github.com/teslashibe/go-galina/pkg/reply"
	"github.com/teslashibe/go-galina/pkg/stt"
	"github.com/teslashibe/go-galina/pkg/tts"
)

// providers are the remote services a conversation talks to.
type providers struct {
	Replier     reply.Provider
	Transcriber stt.Provider
	Synth       tts.Provider
	Profiles    reply.ProfileStore
}

// buildProviders picks the gateway when one is configured and direct
// provider APIs otherwise. ElevenLabs, when keyed, is tried before OpenAI
// speech.
func buildProviders(cfg *config.Config, logger *slog.Logger) (*providers, error) {
	if cfg.UseGateway() {
		return gatewayProviders(cfg, logger)
	}
	return directProviders(cfg, logger)
}

func gatewayProviders(cfg *config.Config, logger *slog.Logger) (*providers, error) {
	replier, err := reply.NewGateway(
		reply.WithBaseURL(cfg.GatewayURL),
		reply.WithAPIKey(cfg.Token),
		reply.WithModel(cfg.ReplyModel),
		reply.WithTemperature(cfg.Temperature),
		reply.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	transcriber, err := stt.NewGateway(
		stt.WithBaseURL(cfg.GatewayURL),
		stt.WithAPIKey(cfg.Token),
		stt.WithLanguage(cfg.Language),
		stt.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	synth, err := tts.NewGateway(
		tts.WithBaseURL(cfg.GatewayURL),
		tts.WithAPIKey(cfg.Token),
		tts.WithVoice(cfg.TTSVoice),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	p := &providers{Replier: replier, Transcriber: transcriber, Synth: synth}
	if cfg.Token != "" {
		profiles, err := reply.NewGatewayProfiles(
			reply.WithBaseURL(cfg.GatewayURL),
			reply.WithAPIKey(cfg.Token),
			reply.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		p.Profiles = profiles
	}
	return p, nil
}

func directProviders(cfg *config.Config, logger *slog.Logger) (*providers, error) {
	if cfg.OpenAIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required without a gateway")
	}

	replier, err := reply.NewOpenAI(
		reply.WithAPIKey(cfg.OpenAIKey),
		reply.WithBaseURL(cfg.OpenAIBase),
		reply.WithModel(cfg.ReplyModel),
		reply.WithTemperature(cfg.Temperature),
		reply.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	transcriber, err := stt.NewWhisper(
		stt.WithAPIKey(cfg.OpenAIKey),
		stt.WithBaseURL(cfg.OpenAIBase),
		stt.WithModel(cfg.STTModel),
		stt.WithLanguage(cfg.Language),
		stt.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	var voices []tts.Provider
	if cfg.ElevenLabsKey != "" {
		opts := []tts.Option{
			tts.WithAPIKey(cfg.ElevenLabsKey),
			tts.WithVoice(cfg.ElevenLabsVoice),
			tts.WithLogger(logger),
		}
		var el tts.Provider
		if cfg.ElevenLabsWS {
			el, err = tts.NewElevenLabsWS(opts...)
		} else {
			el, err = tts.NewElevenLabs(opts...)
		}
		if err != nil {
			logger.Warn("elevenlabs disabled", "error", err)
		} else {
			voices = append(voices, el)
		}
	}
	openaiVoice, err := tts.NewOpenAI(
		tts.WithAPIKey(cfg.OpenAIKey),
		tts.WithBaseURL(cfg.OpenAIBase),
		tts.WithVoice(cfg.TTSVoice),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	voices = append(voices, openaiVoice)

	synth, err := tts.NewChain(logger, voices...)
	if err != nil {
		return nil, err
	}
	return &providers{Replier: replier, Transcriber: transcriber, Synth: synth}, nil
}
