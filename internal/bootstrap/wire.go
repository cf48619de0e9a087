package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"voxdeck/internal/audio"
	"voxdeck/internal/catalog"
	"voxdeck/internal/config"
	"voxdeck/internal/ports"
	"voxdeck/internal/providers/deepgram"
	"voxdeck/internal/providers/gemini"
	"voxdeck/internal/providers/ollama"
	"voxdeck/internal/providers/openai"
	"voxdeck/internal/providers/piper"
	"voxdeck/internal/response"
	"voxdeck/internal/rules"
	"voxdeck/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config   config.Config
	Session  *usecase.AudioSession
	Listener ports.PhraseListener
	Chain    *response.Chain
	Speaker  ports.Speaker
	Catalog  *catalog.Catalog

	closers []func() error
}

// Close releases device contexts and provider clients. Call it after the
// session has been shut down.
func (s Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime. Audio
// devices are opened lazily, so Build itself never touches hardware.
func Build(ctx context.Context, cfg config.Config, events ports.EventSink, logger zerolog.Logger) (Services, error) {
	services := Services{Config: cfg}

	sounds, err := catalog.Load(cfg.Sounds.CatalogFile, logger)
	if err != nil {
		return Services{}, err
	}
	services.Catalog = sounds

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	player := audio.NewOtoPlayer(cfg.Session.PlaybackSampleRate, logger)
	driver := audio.NewMalgoDriver(logger)
	services.closers = append(services.closers, driver.Close)

	services.Listener = buildListener(cfg, sounds, rulesEngine, events, logger)

	services.Session = usecase.NewAudioSession(
		player,
		usecase.NewStreamingPipeline(driver, logger),
		services.Listener,
		events,
		logger,
		usecase.SessionConfig{
			IntroPath:       cfg.Sounds.IntroFile,
			DefaultVolume:   cfg.Session.DefaultVolume,
			ClipVolume:      cfg.Session.ClipVolume,
			PollInterval:    cfg.Session.PollInterval,
			InterruptPhrase: cfg.Session.InterruptPhrase,
			ListenTimeout:   cfg.Session.ListenTimeout,
			StreamGain:      cfg.Session.StreamGain,
		},
	)

	attempts, closers := buildAttempts(ctx, cfg.Response, logger)
	services.closers = append(services.closers, closers...)
	services.Chain = response.NewChain(attempts, response.NewLocalFallback(), events, logger)

	if cfg.Piper.Endpoint != "" {
		services.Speaker = piper.New(cfg.Piper.Endpoint, player, services.Session, logger)
	} else {
		services.Speaker = logSpeaker{logger: logger.With().Str("component", "speaker").Logger()}
	}

	return services, nil
}

// buildListener returns nil when no transcription key is configured; voice
// commands and the intro interrupt are then disabled.
func buildListener(cfg config.Config, sounds *catalog.Catalog, rulesEngine ports.RulesEngine, events ports.EventSink, logger zerolog.Logger) ports.PhraseListener {
	if cfg.Deepgram.APIKey == "" {
		logger.Warn().Msg("DEEPGRAM_API_KEY not set; voice input disabled")
		return nil
	}

	keywords := append([]string{cfg.Session.InterruptPhrase}, sounds.Types()...)
	// Commands are short: end the utterance a second after the last word.
	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:         cfg.Deepgram.APIKey,
		APIBaseURL:     cfg.Deepgram.APIBaseURL,
		Model:          cfg.Deepgram.Model,
		Language:       cfg.Deepgram.Language,
		SmartFormat:    cfg.Deepgram.SmartFormat,
		UtteranceEndMS: 1000,
		Keywords:       keywords,
	}, logger)

	return usecase.NewUtteranceListener(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logger),
		provider,
		rulesEngine,
		events,
		logger,
		usecase.ListenerConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize:      cfg.Audio.ChunkSize,
			StreamingGrace: cfg.Audio.StreamingGrace,
		},
	)
}

// buildAttempts orders the remote providers: OpenAI models, then Gemini
// models, then a local Ollama server. Providers without credentials are
// skipped.
func buildAttempts(ctx context.Context, cfg config.ResponseConfig, logger zerolog.Logger) ([]response.Attempt, []func() error) {
	var (
		attempts []response.Attempt
		closers  []func() error
	)

	if cfg.OpenAIKey != "" {
		models, err := openai.NewModels(openai.Config{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Models:  cfg.OpenAIModels,
			Persona: cfg.Persona,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("openai provider disabled")
		} else {
			backends := make([]response.Backend, 0, len(models))
			for _, model := range models {
				backends = append(backends, response.Backend{Provider: model, Timeout: cfg.Timeout})
			}
			attempts = append(attempts, response.Attempt{Provider: response.NewCascade("openai", backends, logger)})
		}
	}

	if cfg.GeminiKey != "" {
		client, err := gemini.NewClient(ctx, cfg.GeminiKey, cfg.Persona)
		if err != nil {
			logger.Warn().Err(err).Msg("gemini provider disabled")
		} else {
			closers = append(closers, client.Close)
			models := client.Models(cfg.GeminiModels)
			backends := make([]response.Backend, 0, len(models))
			for _, model := range models {
				backends = append(backends, response.Backend{Provider: model, Timeout: cfg.Timeout})
			}
			attempts = append(attempts, response.Attempt{Provider: response.NewCascade("gemini", backends, logger)})
		}
	}

	if cfg.OllamaEndpoint != "" || cfg.OllamaModel != "" {
		attempts = append(attempts, response.Attempt{
			Provider: ollama.New(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Persona),
			Timeout:  cfg.Timeout,
		})
	}

	names := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		names = append(names, attempt.Provider.Name())
	}
	logger.Info().Str("providers", strings.Join(names, ",")).Msg("response chain configured")

	return attempts, closers
}

// logSpeaker stands in for text-to-speech when no Piper server is set.
type logSpeaker struct {
	logger zerolog.Logger
}

func (s logSpeaker) Say(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.logger.Info().Str("text", text).Msg("say")
	return nil
}
