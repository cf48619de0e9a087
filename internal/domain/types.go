package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlaybackMode is the single active audio activity of the session.
type PlaybackMode string

const (
	ModeIdle         PlaybackMode = "idle"
	ModePlayingClip  PlaybackMode = "playing_clip"
	ModePlayingIntro PlaybackMode = "playing_intro"
	ModeStreaming    PlaybackMode = "streaming"
)

// SessionStateReason provides a structured reason for mode transitions.
type SessionStateReason string

const (
	ReasonStartup          SessionStateReason = "startup"
	ReasonClipStarted      SessionStateReason = "clip_started"
	ReasonClipFinished     SessionStateReason = "clip_finished"
	ReasonIntroStarted     SessionStateReason = "intro_started"
	ReasonIntroFinished    SessionStateReason = "intro_finished"
	ReasonIntroFaded       SessionStateReason = "intro_faded"
	ReasonStreamingStarted SessionStateReason = "streaming_started"
	ReasonStreamingStopped SessionStateReason = "streaming_stopped"
	ReasonDeviceFault      SessionStateReason = "device_fault"
	ReasonShutdown         SessionStateReason = "shutdown"
)

// ErrorCode identifies non-fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup          ErrorCode = "startup"
	ErrorCodeResourceNotFound ErrorCode = "resource_not_found"
	ErrorCodeDeviceFault      ErrorCode = "device_fault"
	ErrorCodeProviderFailure  ErrorCode = "provider_failure"
	ErrorCodeAudioStop        ErrorCode = "audio_stop"
	ErrorCodeAudioStream      ErrorCode = "audio_stream"
	ErrorCodeTranscription    ErrorCode = "transcription"
	ErrorCodeRules            ErrorCode = "rules"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// StreamPreset names a (buffer size, sample rate) latency trade-off.
type StreamPreset string

const (
	PresetLow   StreamPreset = "low"
	PresetUltra StreamPreset = "ultra"
)

// SampleFormat is the PCM sample encoding. Only signed 16-bit is supported.
type SampleFormat string

const FormatS16 SampleFormat = "s16"

// DefaultStreamGain is the fixed gain applied by the streaming callback.
const DefaultStreamGain = 2.5

// StreamConfig is the immutable configuration of one duplex stream.
type StreamConfig struct {
	Preset     StreamPreset
	BufferSize int
	SampleRate int
	Channels   int
	Format     SampleFormat
	Gain       float64
}

// Deadline is the real-time budget of one buffer.
func (c StreamConfig) Deadline() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.BufferSize) * time.Second / time.Duration(c.SampleRate)
}

// BufferBytes is the byte length of one mono s16 buffer.
func (c StreamConfig) BufferBytes() int {
	return c.BufferSize * c.Channels * 2
}

// PresetConfig returns the canonical configuration for a preset.
func PresetConfig(preset StreamPreset) (StreamConfig, error) {
	cfg := StreamConfig{
		Preset:   preset,
		Channels: 1,
		Format:   FormatS16,
		Gain:     DefaultStreamGain,
	}
	switch preset {
	case PresetLow:
		cfg.BufferSize = 256
		cfg.SampleRate = 22050
	case PresetUltra:
		cfg.BufferSize = 128
		cfg.SampleRate = 16000
	default:
		return StreamConfig{}, fmt.Errorf("unknown stream preset %q", preset)
	}
	return cfg, nil
}

// ParsePreset maps user input to a preset. Empty input selects PresetLow.
func ParsePreset(value string) (StreamPreset, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "low", "low latency":
		return PresetLow, nil
	case "ultra", "ultra low", "ultra low latency":
		return PresetUltra, nil
	default:
		return "", fmt.Errorf("unknown stream preset %q", value)
	}
}

const (
	FadeSteps    = 50
	FadeDuration = 5 * time.Second
)

// FadeSchedule is the derived linear fade-out plan for a starting volume.
type FadeSchedule struct {
	InitialVolume float64
	Steps         int
	Duration      time.Duration
}

// NewFadeSchedule returns the canonical 50 step, 5 second schedule.
func NewFadeSchedule(initial float64) FadeSchedule {
	return FadeSchedule{InitialVolume: initial, Steps: FadeSteps, Duration: FadeDuration}
}

// Decrement is the volume removed per step.
func (f FadeSchedule) Decrement() float64 {
	if f.Steps <= 0 {
		return 0
	}
	return f.InitialVolume / float64(f.Steps)
}

// Interval is how long each step is held.
func (f FadeSchedule) Interval() time.Duration {
	if f.Steps <= 0 {
		return 0
	}
	return f.Duration / time.Duration(f.Steps)
}

// ResponseAttempt records one provider call made by the fallback chain.
type ResponseAttempt struct {
	ID       string        `json:"id"`
	Provider string        `json:"provider"`
	Prompt   string        `json:"prompt"`
	Timeout  time.Duration `json:"timeout"`
	Elapsed  time.Duration `json:"elapsed"`
	Text     string        `json:"text,omitempty"`
	Failure  string        `json:"failure,omitempty"`
}

// Accepted reports whether the attempt produced validated text.
func (a ResponseAttempt) Accepted() bool {
	return a.Failure == "" && a.Text != ""
}

// Status summarizes the current session state.
type Status struct {
	Mode          PlaybackMode `json:"mode"`
	Volume        float64      `json:"volume"`
	FadeRequested bool         `json:"fadeRequested"`
	Active        bool         `json:"active"`
}
