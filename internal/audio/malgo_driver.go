package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

var ErrDeviceStopped = errors.New("duplex device stopped unexpectedly")

// MalgoDriver opens full-duplex miniaudio devices sharing one context.
type MalgoDriver struct {
	logger zerolog.Logger

	once sync.Once
	ctx  *malgo.AllocatedContext
	err  error
}

func NewMalgoDriver(logger zerolog.Logger) *MalgoDriver {
	return &MalgoDriver{logger: logger.With().Str("component", "malgo-driver").Logger()}
}

func (d *MalgoDriver) Open(cfg domain.StreamConfig, process ports.ProcessFunc, onFault func(error)) (ports.DuplexStream, error) {
	mctx, err := d.context()
	if err != nil {
		return nil, err
	}

	stream := &malgoStream{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, in []byte, _ uint32) {
			process(out, in)
		},
		Stop: stopCallback(&stream.closing, onFault),
	}

	device, err := malgo.InitDevice(mctx.Context, duplexConfig(cfg), callbacks)
	if err != nil {
		return nil, fmt.Errorf("init duplex device: %w", err)
	}
	stream.device = device
	d.logger.Debug().
		Uint32("period_frames", uint32(cfg.BufferSize)).
		Int("sample_rate", cfg.SampleRate).
		Msg("duplex device initialized")
	return stream, nil
}

// Close releases the shared context. Streams must be closed first.
func (d *MalgoDriver) Close() error {
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

func (d *MalgoDriver) context() (*malgo.AllocatedContext, error) {
	d.once.Do(func() {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, func(message string) {
			d.logger.Debug().Msg(strings.TrimSpace(message))
		})
		if err != nil {
			d.err = fmt.Errorf("init audio context: %w", err)
			return
		}
		d.ctx = ctx
	})
	return d.ctx, d.err
}

func duplexConfig(cfg domain.StreamConfig) malgo.DeviceConfig {
	devCfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.BufferSize)
	return devCfg
}

// stopCallback reports a fault when the device stops without being closed.
func stopCallback(closing *atomic.Bool, onFault func(error)) func() {
	return func() {
		if closing.Load() || onFault == nil {
			return
		}
		onFault(ErrDeviceStopped)
	}
}

type malgoStream struct {
	device  *malgo.Device
	closing atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (s *malgoStream) Start() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("start duplex device: %w", err)
	}
	return nil
}

func (s *malgoStream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.device.IsStarted() {
			s.closeErr = s.device.Stop()
		}
		s.device.Uninit()
	})
	return s.closeErr
}
