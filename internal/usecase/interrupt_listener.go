package usecase

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// listenForInterrupt captures short utterances until the interrupt phrase is
// heard or ctx is cancelled. Capture errors are logged and retried.
func (s *AudioSession) listenForInterrupt(ctx context.Context, run *activeRun) {
	defer close(run.listenerDone)
	if s.listener == nil {
		s.logger.Debug().Msg("no phrase listener configured; voice interrupt disabled")
		return
	}

	phrase := normalizePhrase(s.cfg.InterruptPhrase)
	for ctx.Err() == nil {
		text, err := s.listener.Listen(ctx, s.cfg.ListenTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug().Err(err).Msg("interrupt capture failed")
			if !sleepContext(ctx, s.cfg.PollInterval) {
				return
			}
			continue
		}
		if !containsPhrase(text, phrase) {
			continue
		}
		if run.requestFade() {
			s.logger.Info().Str("heard", text).Msg("interrupt phrase detected")
		}
		return
	}
}

func containsPhrase(text, normalizedPhrase string) bool {
	if normalizedPhrase == "" {
		return false
	}
	return strings.Contains(" "+normalizePhrase(text)+" ", " "+normalizedPhrase+" ")
}

// normalizePhrase lowercases text, drops punctuation and collapses spaces.
func normalizePhrase(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		case r == '\'':
			return -1
		default:
			return ' '
		}
	}, text)
	return strings.Join(strings.Fields(cleaned), " ")
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
