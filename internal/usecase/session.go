package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

var (
	ErrBusy         = errors.New("another audio activity is active")
	ErrClipNotFound = errors.New("sound file not found")
	ErrNoIntro      = errors.New("no intro file configured")
	ErrDeviceFault  = errors.New("audio device fault")
	ErrClosed       = errors.New("audio session is shut down")
)

// SessionConfig controls playback volumes, polling and the interrupt listener.
type SessionConfig struct {
	IntroPath       string
	DefaultVolume   float64
	ClipVolume      float64
	PollInterval    time.Duration
	FadeDuration    time.Duration
	InterruptPhrase string
	ListenTimeout   time.Duration
	StreamGain      float64
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.DefaultVolume <= 0 || c.DefaultVolume > 1 {
		c.DefaultVolume = 0.8
	}
	if c.ClipVolume <= 0 || c.ClipVolume > 1 {
		c.ClipVolume = 0.4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.FadeDuration <= 0 {
		c.FadeDuration = domain.FadeDuration
	}
	if c.InterruptPhrase == "" {
		c.InterruptPhrase = "stop music"
	}
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = time.Second
	}
	if c.StreamGain <= 0 {
		c.StreamGain = domain.DefaultStreamGain
	}
	return c
}

// AudioSession owns the playback mode and guarantees that at most one of
// clip, intro or streaming is active.
type AudioSession struct {
	player   ports.ClipPlayer
	pipeline *StreamingPipeline
	listener ports.PhraseListener
	events   ports.EventSink
	logger   zerolog.Logger
	cfg      SessionConfig

	mu        sync.Mutex
	mode      domain.PlaybackMode
	volume    float64
	current   *activeRun
	streamGen uint64
	closed    bool
}

func NewAudioSession(
	player ports.ClipPlayer,
	pipeline *StreamingPipeline,
	listener ports.PhraseListener,
	events ports.EventSink,
	logger zerolog.Logger,
	cfg SessionConfig,
) *AudioSession {
	cfg = cfg.withDefaults()
	return &AudioSession{
		player:   player,
		pipeline: pipeline,
		listener: listener,
		events:   events,
		logger:   logger.With().Str("component", "audio-session").Logger(),
		cfg:      cfg,
		mode:     domain.ModeIdle,
		volume:   cfg.DefaultVolume,
	}
}

// PlayClip plays a file at the reduced clip volume and blocks until it ends.
func (s *AudioSession) PlayClip(ctx context.Context, path string) error {
	if err := s.requireIdle("play clip"); err != nil {
		return err
	}
	playback, err := s.openClip(path)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newActiveRun(domain.ModePlayingClip, playback, cancel)

	s.mu.Lock()
	if err := s.claimLocked(run, "play clip"); err != nil {
		s.mu.Unlock()
		cancel()
		_ = playback.Stop()
		return err
	}
	s.volume = s.cfg.ClipVolume
	playback.SetVolume(s.cfg.ClipVolume)
	playback.Play()
	s.mu.Unlock()

	s.logger.Info().Str("path", path).Float64("volume", s.cfg.ClipVolume).Msg("playing clip")
	s.events.ModeChanged(domain.ModePlayingClip, domain.ReasonClipStarted)

	reason := domain.ReasonClipFinished
	if s.waitForPlayback(runCtx, playback) {
		run.markFinished()
	} else {
		run.markCancelled()
		reason = domain.ReasonShutdown
	}
	s.finishRun(run, reason)
	return nil
}

// PlayIntroWithInterrupt plays the intro and blocks until it either finishes
// or is faded out after an interrupt request.
func (s *AudioSession) PlayIntroWithInterrupt(ctx context.Context) error {
	if s.cfg.IntroPath == "" {
		s.events.SessionError(domain.ErrorCodeResourceNotFound, ErrNoIntro.Error())
		return ErrNoIntro
	}
	if err := s.requireIdle("play intro"); err != nil {
		return err
	}
	playback, err := s.openClip(s.cfg.IntroPath)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newActiveRun(domain.ModePlayingIntro, playback, cancel)
	listenerCtx, listenerCancel := context.WithCancel(runCtx)
	run.listenerCancel = listenerCancel
	run.listenerDone = make(chan struct{})

	s.mu.Lock()
	if err := s.claimLocked(run, "play intro"); err != nil {
		s.mu.Unlock()
		listenerCancel()
		cancel()
		_ = playback.Stop()
		return err
	}
	s.volume = s.cfg.DefaultVolume
	playback.SetVolume(s.cfg.DefaultVolume)
	playback.Play()
	go s.listenForInterrupt(listenerCtx, run)
	s.mu.Unlock()

	s.logger.Info().Str("path", s.cfg.IntroPath).Str("interrupt_phrase", s.cfg.InterruptPhrase).Msg("playing intro")
	s.events.ModeChanged(domain.ModePlayingIntro, domain.ReasonIntroStarted)

	reason := s.superviseIntro(runCtx, run)
	s.finishRun(run, reason)
	return nil
}

// RequestFadeOut asks a playing intro to fade out. It is a no-op outside
// PlayingIntro or when a fade is already underway.
func (s *AudioSession) RequestFadeOut() bool {
	s.mu.Lock()
	run := s.current
	mode := s.mode
	s.mu.Unlock()

	if mode != domain.ModePlayingIntro || run == nil || run.mode != domain.ModePlayingIntro {
		s.logger.Debug().Str("mode", string(mode)).Msg("fade request ignored")
		return false
	}
	return run.requestFade()
}

// StartStreaming opens the duplex pass-through for preset and returns
// immediately.
func (s *AudioSession) StartStreaming(preset domain.StreamPreset) error {
	cfg, err := domain.PresetConfig(preset)
	if err != nil {
		return err
	}
	cfg.Gain = s.cfg.StreamGain

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.mode != domain.ModeIdle {
		mode := s.mode
		s.mu.Unlock()
		return s.busy("start streaming", mode)
	}

	gen, err := s.pipeline.Start(cfg, s.handleStreamFault)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("preset", string(preset)).Msg("streaming failed to start")
		s.events.SessionError(domain.ErrorCodeDeviceFault, err.Error())
		return fmt.Errorf("%w: %w", ErrDeviceFault, err)
	}
	s.mode = domain.ModeStreaming
	s.streamGen = gen
	s.mu.Unlock()

	s.events.ModeChanged(domain.ModeStreaming, domain.ReasonStreamingStarted)
	return nil
}

// StopStreaming releases the duplex stream. It is a no-op when not streaming.
func (s *AudioSession) StopStreaming() error {
	return s.stopStreaming(domain.ReasonStreamingStopped)
}

// Shutdown forces every mode back to Idle and restores the default volume.
// A fade already underway completes first unless ctx expires.
func (s *AudioSession) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	mode := s.mode
	run := s.current
	s.mu.Unlock()

	var err error
	switch {
	case mode == domain.ModeStreaming:
		_ = s.stopStreaming(domain.ReasonShutdown)
	case run != nil:
		run.cancel()
		select {
		case <-run.done:
		case <-ctx.Done():
			s.forceRelease(run)
			err = fmt.Errorf("shutdown before %s finished: %w", run.mode, ctx.Err())
		}
	}

	s.mu.Lock()
	s.volume = s.cfg.DefaultVolume
	s.mu.Unlock()

	s.logger.Info().Str("from", string(mode)).Msg("audio session shut down")
	return err
}

// Status returns a snapshot of the session state.
func (s *AudioSession) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := domain.Status{
		Mode:   s.mode,
		Volume: s.volume,
		Active: s.mode != domain.ModeIdle,
	}
	if s.current != nil {
		status.FadeRequested = s.current.fadeRequested()
	}
	return status
}

// Mode returns the active playback mode.
func (s *AudioSession) Mode() domain.PlaybackMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *AudioSession) requireIdle(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.mode != domain.ModeIdle {
		return s.busy(op, s.mode)
	}
	return nil
}

func (s *AudioSession) claimLocked(run *activeRun, op string) error {
	if s.closed {
		return ErrClosed
	}
	if s.mode != domain.ModeIdle {
		return s.busy(op, s.mode)
	}
	s.mode = run.mode
	s.current = run
	return nil
}

func (s *AudioSession) busy(op string, mode domain.PlaybackMode) error {
	s.logger.Debug().Str("op", op).Str("mode", string(mode)).Msg("rejected while busy")
	return fmt.Errorf("%w: cannot %s while %s", ErrBusy, op, mode)
}

func (s *AudioSession) openClip(path string) (ports.Playback, error) {
	playback, err := s.player.Open(path)
	if err == nil {
		return playback, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().Str("path", path).Msg("sound file not found")
		s.events.SessionError(domain.ErrorCodeResourceNotFound, "sound file not found: "+path)
		return nil, fmt.Errorf("%w: %s", ErrClipNotFound, path)
	}
	s.logger.Error().Err(err).Str("path", path).Msg("sound file could not be opened")
	s.events.SessionError(domain.ErrorCodeResourceNotFound, err.Error())
	return nil, fmt.Errorf("open %s: %w", path, err)
}

// waitForPlayback polls until playback ends (true) or ctx is cancelled (false).
func (s *AudioSession) waitForPlayback(ctx context.Context, playback ports.Playback) bool {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if !playback.IsPlaying() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// superviseIntro resolves the intro to exactly one terminal transition.
func (s *AudioSession) superviseIntro(ctx context.Context, run *activeRun) domain.SessionStateReason {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if run.fadeRequested() {
			return s.fadeOut(run)
		}
		if !run.playback.IsPlaying() && run.markFinished() {
			s.logger.Info().Msg("intro finished")
			return domain.ReasonIntroFinished
		}
		select {
		case <-ctx.Done():
			if run.markCancelled() {
				return domain.ReasonShutdown
			}
		case <-ticker.C:
		}
	}
}

// fadeOut runs the full ramp. It only stops early when the session no
// longer owns run, and then leaves the session state untouched.
func (s *AudioSession) fadeOut(run *activeRun) domain.SessionStateReason {
	run.stopListener()

	s.mu.Lock()
	initial := s.volume
	s.mu.Unlock()

	plan := VolumeRampFor(domain.FadeSchedule{
		InitialVolume: initial,
		Steps:         domain.FadeSteps,
		Duration:      s.cfg.FadeDuration,
	})
	s.logger.Info().Float64("from", initial).Dur("duration", s.cfg.FadeDuration).Msg("fading out intro")

	for _, volume := range plan.Volumes {
		if !s.applyRampStep(run, volume) {
			s.logger.Warn().Msg("fade abandoned: intro no longer active")
			return domain.ReasonIntroFaded
		}
		time.Sleep(plan.Hold)
	}
	return domain.ReasonIntroFaded
}

func (s *AudioSession) applyRampStep(run *activeRun, volume float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != run || s.mode != domain.ModePlayingIntro {
		return false
	}
	s.volume = volume
	run.playback.SetVolume(volume)
	return true
}

// finishRun stops playback, joins the listener and returns to Idle if the
// session still owns run.
func (s *AudioSession) finishRun(run *activeRun, reason domain.SessionStateReason) {
	run.stopListener()
	if err := run.playback.Stop(); err != nil {
		s.events.SessionError(domain.ErrorCodeAudioStop, err.Error())
	}
	run.cancel()

	released := false
	s.mu.Lock()
	if s.current == run {
		s.current = nil
		s.mode = domain.ModeIdle
		s.volume = s.cfg.DefaultVolume
		released = true
	}
	s.mu.Unlock()

	if released {
		s.events.ModeChanged(domain.ModeIdle, reason)
	}
	close(run.done)
}

// forceRelease takes run away from its supervisor. Ownership is dropped and
// playback stopped under s.mu, so a ramp step either lands before the stop
// or sees that it no longer owns run.
func (s *AudioSession) forceRelease(run *activeRun) {
	if run.listenerCancel != nil {
		run.listenerCancel()
	}

	released := false
	s.mu.Lock()
	if s.current == run {
		s.current = nil
		s.mode = domain.ModeIdle
		s.volume = s.cfg.DefaultVolume
		released = true
	}
	stopErr := run.playback.Stop()
	s.mu.Unlock()

	if stopErr != nil {
		s.events.SessionError(domain.ErrorCodeAudioStop, stopErr.Error())
	}

	if released {
		s.logger.Warn().Str("mode", string(run.mode)).Msg("playback force released")
		s.events.ModeChanged(domain.ModeIdle, domain.ReasonShutdown)
	}
}

func (s *AudioSession) stopStreaming(reason domain.SessionStateReason) error {
	s.mu.Lock()
	if s.mode != domain.ModeStreaming {
		s.mu.Unlock()
		return nil
	}
	err := s.pipeline.Stop()
	s.mode = domain.ModeIdle
	s.streamGen = 0
	s.mu.Unlock()

	if err != nil {
		s.events.SessionError(domain.ErrorCodeAudioStop, err.Error())
	}
	s.events.ModeChanged(domain.ModeIdle, reason)
	return nil
}

func (s *AudioSession) handleStreamFault(gen uint64, cause error) {
	s.mu.Lock()
	if s.mode != domain.ModeStreaming || s.streamGen != gen {
		s.mu.Unlock()
		return
	}
	_, stopErr := s.pipeline.StopGeneration(gen)
	s.mode = domain.ModeIdle
	s.streamGen = 0
	s.mu.Unlock()

	event := s.logger.Error().Err(cause)
	if stopErr != nil {
		event = event.AnErr("release_error", stopErr)
	}
	event.Msg("duplex stream faulted")

	detail := "stream device fault"
	if cause != nil {
		detail = cause.Error()
	}
	s.events.SessionError(domain.ErrorCodeDeviceFault, detail)
	s.events.ModeChanged(domain.ModeIdle, domain.ReasonDeviceFault)
}
