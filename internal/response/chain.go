package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

const (
	// DefaultTimeout applies to attempts configured without one.
	DefaultTimeout = 12 * time.Second
	// MinResponseLength is the shortest trimmed reply, in characters, that
	// counts as a success.
	MinResponseLength = 6
	// LocalProviderName identifies answers drawn from the local fallback.
	LocalProviderName = "local"
)

var ErrRejected = errors.New("response rejected")

// Attempt is one provider in the chain with its own timeout. A zero Timeout
// uses the provider's Budget when it has one, and DefaultTimeout otherwise.
type Attempt struct {
	Provider ports.ResponseProvider
	Timeout  time.Duration
}

// Result is the outcome of one chain run.
type Result struct {
	Text     string
	Provider string
	Fallback bool
	Attempts []domain.ResponseAttempt
}

type budgeted interface {
	Budget() time.Duration
}

// Chain tries providers in order and stops at the first validated reply.
// When every provider fails it answers from the local fallback.
type Chain struct {
	attempts []Attempt
	fallback *LocalFallback
	events   ports.EventSink
	logger   zerolog.Logger
}

func NewChain(attempts []Attempt, fallback *LocalFallback, events ports.EventSink, logger zerolog.Logger) *Chain {
	if fallback == nil {
		fallback = NewLocalFallback()
	}
	normalized := make([]Attempt, 0, len(attempts))
	for _, attempt := range attempts {
		if attempt.Provider == nil {
			continue
		}
		attempt.Timeout = attemptTimeout(attempt)
		normalized = append(normalized, attempt)
	}
	return &Chain{
		attempts: normalized,
		fallback: fallback,
		events:   events,
		logger:   logger.With().Str("component", "response-chain").Logger(),
	}
}

// Generate returns response text for question. It never fails: provider
// errors degrade to the local fallback.
func (c *Chain) Generate(ctx context.Context, question string) string {
	return c.GenerateDetailed(ctx, question).Text
}

// GenerateDetailed is Generate plus the record of every provider attempt.
func (c *Chain) GenerateDetailed(ctx context.Context, question string) Result {
	question = strings.TrimSpace(question)
	var result Result

	for _, attempt := range c.attempts {
		if ctx.Err() != nil {
			c.logger.Debug().Err(ctx.Err()).Msg("chain cancelled; skipping remaining providers")
			break
		}
		record := c.try(ctx, attempt, question)
		result.Attempts = append(result.Attempts, record)
		if record.Accepted() {
			result.Text = record.Text
			result.Provider = record.Provider
			return result
		}
	}

	result.Text = c.fallback.Line()
	result.Provider = LocalProviderName
	result.Fallback = true
	c.logger.Info().Int("attempts", len(result.Attempts)).Msg("all providers failed; using local fallback")
	return result
}

// Budget is the longest Generate can block.
func (c *Chain) Budget() time.Duration {
	var total time.Duration
	for _, attempt := range c.attempts {
		total += attempt.Timeout
	}
	return total
}

func (c *Chain) try(ctx context.Context, attempt Attempt, prompt string) domain.ResponseAttempt {
	record := domain.ResponseAttempt{
		ID:       uuid.NewString(),
		Provider: attempt.Provider.Name(),
		Prompt:   prompt,
		Timeout:  attempt.Timeout,
	}

	started := time.Now()
	text, err := callProvider(ctx, attempt.Provider, prompt, attempt.Timeout)
	if err == nil {
		text, err = Validate(text)
	}
	record.Elapsed = time.Since(started)

	if err != nil {
		record.Failure = err.Error()
		c.logger.Warn().
			Str("attempt", record.ID).
			Str("provider", record.Provider).
			Dur("elapsed", record.Elapsed).
			Err(err).
			Msg("provider failed")
		if c.events != nil {
			c.events.SessionError(domain.ErrorCodeProviderFailure, fmt.Sprintf("%s: %v", record.Provider, err))
		}
		return record
	}

	record.Text = text
	c.logger.Info().
		Str("attempt", record.ID).
		Str("provider", record.Provider).
		Dur("elapsed", record.Elapsed).
		Int("chars", utf8.RuneCountInString(text)).
		Msg("provider answered")
	return record
}

// Validate trims text and rejects replies shorter than MinResponseLength.
func Validate(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if n := utf8.RuneCountInString(trimmed); n < MinResponseLength {
		return "", fmt.Errorf("%w: %d characters", ErrRejected, n)
	}
	return trimmed, nil
}

// callProvider runs one Generate call bounded by timeout. Panics inside the
// provider are reported as that provider's failure.
func callProvider(ctx context.Context, provider ports.ResponseProvider, prompt string, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		text, err := provider.Generate(callCtx, prompt)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-callCtx.Done():
		return "", fmt.Errorf("no reply within %s: %w", timeout, callCtx.Err())
	}
}

func attemptTimeout(attempt Attempt) time.Duration {
	if attempt.Timeout > 0 {
		return attempt.Timeout
	}
	if b, ok := attempt.Provider.(budgeted); ok && b.Budget() > 0 {
		return b.Budget()
	}
	return DefaultTimeout
}
