package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinProviderTimeout = 12 * time.Second
	MaxProviderTimeout = 15 * time.Second
)

// Config stores runtime configuration for the assistant.
type Config struct {
	Sounds   SoundsConfig
	Session  SessionConfig
	Audio    AudioConfig
	Deepgram DeepgramConfig
	Rules    RulesConfig
	Response ResponseConfig
	Piper    PiperConfig
	LogLevel string
}

type SoundsConfig struct {
	Dir         string
	CatalogFile string
	IntroFile   string
	TestFile    string
}

type SessionConfig struct {
	InterruptPhrase    string
	ListenTimeout      time.Duration
	CommandTimeout     time.Duration
	PollInterval       time.Duration
	PlaybackSampleRate int
	DefaultVolume      float64
	ClipVolume         float64
	StreamGain         float64
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ChunkSize       int
	StreamingGrace  time.Duration
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type ResponseConfig struct {
	Persona        string
	Timeout        time.Duration
	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAIModels   []string
	GeminiKey      string
	GeminiModels   []string
	OllamaEndpoint string
	OllamaModel    string
}

type PiperConfig struct {
	Endpoint string
}

const defaultPersona = "You are a calm, kind voice assistant. Answer in one or two short spoken sentences."

// Load reads the optional env files (".env" when none are given) and then
// resolves configuration from environment variables and defaults. Variables
// already set in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	soundsDir := envOrDefault("VOXDECK_SOUNDS_DIR", "sounds")
	rulesPath := envOrDefault("VOXDECK_RULES_FILE", filepath.Join(home, ".config", "voxdeck", "phrases.rules"))

	cfg := Config{
		Sounds: SoundsConfig{
			Dir:         soundsDir,
			CatalogFile: envOrDefault("VOXDECK_CATALOG_FILE", "therapies.csv"),
			IntroFile:   envOrDefault("VOXDECK_INTRO_FILE", filepath.Join(soundsDir, "intro.mp3")),
			TestFile:    envOrDefault("VOXDECK_TEST_FILE", filepath.Join(soundsDir, "test.mp3")),
		},
		Session: SessionConfig{
			InterruptPhrase:    envOrDefault("VOXDECK_INTERRUPT_PHRASE", "stop music"),
			ListenTimeout:      envOrDefaultMillis("VOXDECK_LISTEN_TIMEOUT_MS", time.Second),
			CommandTimeout:     envOrDefaultMillis("VOXDECK_COMMAND_TIMEOUT_MS", 5*time.Second),
			PollInterval:       envOrDefaultMillis("VOXDECK_POLL_INTERVAL_MS", 100*time.Millisecond),
			PlaybackSampleRate: envOrDefaultInt("VOXDECK_PLAYBACK_SAMPLE_RATE", 22050),
			DefaultVolume:      envOrDefaultUnit("VOXDECK_DEFAULT_VOLUME", 0.8),
			ClipVolume:         envOrDefaultUnit("VOXDECK_CLIP_VOLUME", 0.4),
			StreamGain:         envOrDefaultFloat("VOXDECK_STREAM_GAIN", 2.5),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("VOXDECK_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     strings.TrimSpace(os.Getenv("VOXDECK_AUDIO_INPUT_FORMAT")),
			InputDevice:     strings.TrimSpace(os.Getenv("VOXDECK_AUDIO_INPUT_DEVICE")),
			SampleRate:      envOrDefaultInt("VOXDECK_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("VOXDECK_CHANNELS", 1),
			ChunkSize:       envOrDefaultInt("VOXDECK_AUDIO_CHUNK_SIZE", 4096),
			StreamingGrace:  envOrDefaultMillis("VOXDECK_STREAMING_GRACE_MS", 300*time.Millisecond),
		},
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:    strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("VOXDECK_RULE_ITERATION_LIMIT", 30),
		},
		Response: ResponseConfig{
			Persona:        envOrDefault("VOXDECK_PERSONA", defaultPersona),
			Timeout:        clampProviderTimeout(envOrDefaultMillis("VOXDECK_PROVIDER_TIMEOUT_MS", MinProviderTimeout)),
			OpenAIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			OpenAIBaseURL:  strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			OpenAIModels:   envList("OPENAI_MODELS"),
			GeminiKey:      firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
			GeminiModels:   envList("GEMINI_MODELS"),
			OllamaEndpoint: strings.TrimSpace(os.Getenv("OLLAMA_ENDPOINT")),
			OllamaModel:    strings.TrimSpace(os.Getenv("OLLAMA_MODEL")),
		},
		Piper: PiperConfig{
			Endpoint: strings.TrimSpace(os.Getenv("PIPER_ENDPOINT")),
		},
		LogLevel: envOrDefault("VOXDECK_LOG_LEVEL", "info"),
	}

	if cfg.Session.PlaybackSampleRate <= 0 {
		cfg.Session.PlaybackSampleRate = 22050
	}
	if cfg.Session.StreamGain <= 0 {
		cfg.Session.StreamGain = 2.5
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}

	return cfg, nil
}

// SoundPath maps a spoken clip name to a file under the sounds directory.
func (c SoundsConfig) SoundPath(name string) string {
	name = strings.TrimSpace(name)
	if filepath.Ext(name) == "" {
		name += ".mp3"
	}
	return filepath.Join(c.Dir, filepath.Base(name))
}

func clampProviderTimeout(d time.Duration) time.Duration {
	return min(max(d, MinProviderTimeout), MaxProviderTimeout)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
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

func envOrDefaultFloat(key string, fallback float64) float64 {
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

// envOrDefaultUnit reads a volume in [0, 1].
func envOrDefaultUnit(key string, fallback float64) float64 {
	parsed := envOrDefaultFloat(key, fallback)
	if parsed < 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	ms := envOrDefaultInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
