package ports

import (
	"context"
	"io"
	"time"

	"voxdeck/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// PhraseListener performs one bounded voice capture and returns the
// normalized lower-case transcript. An empty string with a nil error means
// nothing was heard.
type PhraseListener interface {
	Listen(ctx context.Context, timeout time.Duration) (string, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Playback is a single opened clip. Stop halts output and releases the
// player; it is safe to call more than once.
type Playback interface {
	Play()
	IsPlaying() bool
	SetVolume(volume float64)
	Stop() error
}

// ClipPlayer decodes audio files into playable clips.
type ClipPlayer interface {
	Open(path string) (Playback, error)
}

// ProcessFunc fills out from in. It runs on the driver's real-time thread
// and must not block or allocate.
type ProcessFunc func(out, in []byte)

// DuplexStream is an opened bidirectional device.
type DuplexStream interface {
	Start() error
	// Close stops the device and releases native handles exactly once.
	Close() error
}

// DuplexDriver opens bidirectional audio devices. onFault is invoked at most
// once, off the real-time thread, when the device stops on its own.
type DuplexDriver interface {
	Open(cfg domain.StreamConfig, process ProcessFunc, onFault func(error)) (DuplexStream, error)
}

// ResponseProvider generates response text from a prompt.
type ResponseProvider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Speaker turns text into audible speech.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// EventSink receives session state and diagnostics.
type EventSink interface {
	ModeChanged(mode domain.PlaybackMode, reason domain.SessionStateReason)
	PartialTranscript(text string)
	FinalTranscript(raw string, normalized string)
	SessionError(code domain.ErrorCode, detail string)
}
