package response

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voxdeck/internal/ports"
)

// Backend is one model or endpoint inside a Cascade.
type Backend struct {
	Provider ports.ResponseProvider
	Timeout  time.Duration
}

// Cascade is a provider composed of backends tried in order, each under its
// own timeout. It fails once, with every backend error joined.
type Cascade struct {
	name     string
	backends []Backend
	logger   zerolog.Logger
}

func NewCascade(name string, backends []Backend, logger zerolog.Logger) *Cascade {
	kept := make([]Backend, 0, len(backends))
	for _, backend := range backends {
		if backend.Provider == nil {
			continue
		}
		if backend.Timeout <= 0 {
			backend.Timeout = DefaultTimeout
		}
		kept = append(kept, backend)
	}
	return &Cascade{
		name:     name,
		backends: kept,
		logger:   logger.With().Str("component", "response-cascade").Str("provider", name).Logger(),
	}
}

func (c *Cascade) Name() string { return c.name }

// Budget is the sum of the backend timeouts.
func (c *Cascade) Budget() time.Duration {
	var total time.Duration
	for _, backend := range c.backends {
		total += backend.Timeout
	}
	return total
}

// Len returns the number of configured backends.
func (c *Cascade) Len() int { return len(c.backends) }

func (c *Cascade) Generate(ctx context.Context, prompt string) (string, error) {
	if len(c.backends) == 0 {
		return "", fmt.Errorf("%s: no backends configured", c.name)
	}

	var errs []error
	for _, backend := range c.backends {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		text, err := callProvider(ctx, backend.Provider, prompt, backend.Timeout)
		if err == nil {
			text, err = Validate(text)
		}
		if err == nil {
			return text, nil
		}
		c.logger.Debug().Str("backend", backend.Provider.Name()).Err(err).Msg("backend failed")
		errs = append(errs, fmt.Errorf("%s: %w", backend.Provider.Name(), err))
	}
	return "", errors.Join(errs...)
}
