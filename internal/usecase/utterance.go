package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

// ListenerConfig controls bounded utterance capture.
type ListenerConfig struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	StreamTimeout  time.Duration
}

// UtteranceListener captures one utterance from the microphone, streams it
// to a transcription provider and returns the normalized text.
type UtteranceListener struct {
	audio     ports.AudioCapture
	provider  ports.TranscriptionProvider
	events    ports.EventSink
	finalizer transcriptFinalizer
	logger    zerolog.Logger
	cfg       ListenerConfig

	mu sync.Mutex
}

func NewUtteranceListener(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	rules ports.RulesEngine,
	events ports.EventSink,
	logger zerolog.Logger,
	cfg ListenerConfig,
) *UtteranceListener {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 4 * time.Second
	}
	return &UtteranceListener{
		audio:     audio,
		provider:  provider,
		events:    events,
		finalizer: newTranscriptFinalizer(rules, events),
		logger:    logger.With().Str("component", "utterance-listener").Logger(),
		cfg:       cfg,
	}
}

// Listen records for at most timeout, or until the provider marks the end
// of speech. An empty result with a nil error means nothing was heard.
func (l *UtteranceListener) Listen(ctx context.Context, timeout time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := l.provider.StartStreaming(captureCtx, l.cfg.Streaming)
	if err != nil {
		return "", fmt.Errorf("start transcription: %w", err)
	}
	audio, err := l.audio.Start(captureCtx, l.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		return "", fmt.Errorf("start capture: %w", err)
	}

	capture := startCaptureStream(audio, stream, l.events, l.cfg.ChunkSize)

	timer := time.NewTimer(timeout)
	select {
	case <-timer.C:
	case <-capture.SpeechFinal():
	case <-ctx.Done():
	}
	timer.Stop()

	if err := audio.Stop(); err != nil {
		l.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}

	if ctx.Err() != nil {
		capture.Abort()
		return "", ctx.Err()
	}

	if l.cfg.StreamingGrace > 0 {
		sleepContext(ctx, l.cfg.StreamingGrace)
	}
	streamErr := capture.Finish(l.cfg.StreamTimeout)

	raw := capture.Transcript()
	if raw == "" && streamErr != nil {
		l.events.SessionError(domain.ErrorCodeTranscription, streamErr.Error())
		return "", streamErr
	}
	if raw == "" {
		l.logger.Debug().Dur("timeout", timeout).Int("bytes_sent", capture.BytesSent()).Msg("no speech captured")
		return "", nil
	}

	text, err := l.finalizer.Finalize(raw)
	if err != nil {
		l.logger.Warn().Err(err).Msg("phrase rules failed; using raw transcript")
	}
	return text, nil
}
