package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

const DefaultEndpoint = "http://localhost:7071/tts"

// ErrAudioBusy is returned when speech would overlap a clip, intro or
// stream.
var ErrAudioBusy = errors.New("audio output is busy")

// ModeReader reports the engine's playback mode. Speech only plays while it
// is Idle.
type ModeReader interface {
	Mode() domain.PlaybackMode
}

// WAVPlayer plays an in-memory WAV file.
type WAVPlayer interface {
	OpenWAV(data []byte) (ports.Playback, error)
}

// Speaker synthesizes speech on a Piper HTTP server and plays the result.
type Speaker struct {
	endpoint string
	client   *http.Client
	player   WAVPlayer
	modes    ModeReader
	poll     time.Duration
	logger   zerolog.Logger
}

// New returns a Speaker. modes may be nil, in which case speech is never
// held back.
func New(endpoint string, player WAVPlayer, modes ModeReader, logger zerolog.Logger) *Speaker {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Speaker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		player:   player,
		modes:    modes,
		poll:     50 * time.Millisecond,
		logger:   logger.With().Str("component", "piper").Logger(),
	}
}

// Synthesize posts text as a form field and returns the WAV body.
func (s *Speaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	form := url.Values{}
	form.Set("text", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build piper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post form to piper tts: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("piper tts bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !bytes.HasPrefix(body, []byte("RIFF")) {
		return nil, errors.New("piper tts returned a non-wav body")
	}
	return body, nil
}

// Say speaks text and blocks until playback ends or ctx is cancelled. It
// returns ErrAudioBusy instead of mixing into another active audio path.
func (s *Speaker) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := s.checkIdle(); err != nil {
		return err
	}

	wav, err := s.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if err := s.checkIdle(); err != nil {
		return err
	}
	playback, err := s.player.OpenWAV(wav)
	if err != nil {
		return fmt.Errorf("open synthesized speech: %w", err)
	}
	defer func() {
		if err := playback.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release speech playback")
		}
	}()

	s.logger.Debug().Int("bytes", len(wav)).Msg("speaking")
	playback.Play()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for playback.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Speaker) checkIdle() error {
	if s.modes == nil {
		return nil
	}
	if mode := s.modes.Mode(); mode != domain.ModeIdle {
		return fmt.Errorf("%w: %s", ErrAudioBusy, mode)
	}
	return nil
}
