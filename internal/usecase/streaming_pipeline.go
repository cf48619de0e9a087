package usecase

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"voxdeck/internal/dsp"
	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

var ErrStreamActive = errors.New("a duplex stream is already open")

// StreamingPipeline owns one duplex stream and its gain callback.
type StreamingPipeline struct {
	driver ports.DuplexDriver
	logger zerolog.Logger

	mu     sync.Mutex
	stream ports.DuplexStream
	cfg    domain.StreamConfig
	gen    uint64

	faults    atomic.Uint64
	processed atomic.Uint64
}

func NewStreamingPipeline(driver ports.DuplexDriver, logger zerolog.Logger) *StreamingPipeline {
	return &StreamingPipeline{
		driver: driver,
		logger: logger.With().Str("component", "streaming-pipeline").Logger(),
	}
}

// Start opens and starts a duplex stream. onFault is called at most once, on
// its own goroutine, with the generation returned here.
func (p *StreamingPipeline) Start(cfg domain.StreamConfig, onFault func(gen uint64, err error)) (uint64, error) {
	if err := validateStreamConfig(cfg); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return 0, ErrStreamActive
	}

	p.gen++
	gen := p.gen
	p.faults.Store(0)
	p.processed.Store(0)

	var faultOnce sync.Once
	reportFault := func(err error) {
		faultOnce.Do(func() {
			if onFault != nil {
				go onFault(gen, err)
			}
		})
	}

	stream, err := p.driver.Open(cfg, p.processor(cfg.Gain), reportFault)
	if err != nil {
		return 0, fmt.Errorf("open duplex device: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return 0, fmt.Errorf("start duplex device: %w", err)
	}

	p.stream = stream
	p.cfg = cfg
	p.logger.Info().
		Str("preset", string(cfg.Preset)).
		Int("buffer", cfg.BufferSize).
		Int("sample_rate", cfg.SampleRate).
		Dur("deadline", cfg.Deadline()).
		Msg("duplex stream started")
	return gen, nil
}

// Stop halts the stream and releases the device. Stopping an idle pipeline
// is a no-op.
func (p *StreamingPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

// StopGeneration stops the stream only if gen is still the open stream.
func (p *StreamingPipeline) StopGeneration(gen uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil || p.gen != gen {
		return false, nil
	}
	return true, p.closeLocked()
}

// Active reports whether a stream is open.
func (p *StreamingPipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Faults returns how many buffers were passed through unprocessed since the
// last start.
func (p *StreamingPipeline) Faults() uint64 {
	return p.faults.Load()
}

// Processed returns how many buffers the callback handled since the last start.
func (p *StreamingPipeline) Processed() uint64 {
	return p.processed.Load()
}

func (p *StreamingPipeline) closeLocked() error {
	if p.stream == nil {
		return nil
	}
	stream := p.stream
	p.stream = nil

	err := stream.Close()
	event := p.logger.Info()
	if err != nil {
		event = p.logger.Warn().Err(err)
	}
	event.
		Str("preset", string(p.cfg.Preset)).
		Uint64("buffers", p.processed.Load()).
		Uint64("faults", p.faults.Load()).
		Msg("duplex stream released")
	return err
}

func (p *StreamingPipeline) processor(gain float64) ports.ProcessFunc {
	return func(out, in []byte) {
		p.processed.Add(1)
		if !dsp.ApplyGain(out, in, gain) {
			p.faults.Add(1)
		}
	}
}

func validateStreamConfig(cfg domain.StreamConfig) error {
	switch {
	case cfg.BufferSize <= 0:
		return fmt.Errorf("invalid buffer size %d", cfg.BufferSize)
	case cfg.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	case cfg.Channels != 1:
		return fmt.Errorf("only mono streams are supported, got %d channels", cfg.Channels)
	case cfg.Format != domain.FormatS16:
		return fmt.Errorf("unsupported sample format %q", cfg.Format)
	case cfg.Gain <= 0 || cfg.Gain != cfg.Gain:
		return fmt.Errorf("invalid gain %v", cfg.Gain)
	}
	return nil
}
