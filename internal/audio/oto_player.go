package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/ik5/audpbx"
	pbx "github.com/ik5/audpbx/audio"
	"github.com/ik5/audpbx/formats/mp3"
	"github.com/ik5/audpbx/formats/vorbis"
	"github.com/rs/zerolog"

	"voxdeck/internal/ports"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

const resampleChunk = 4096

// OtoPlayer decodes wav, mp3 and ogg files to mono s16 at a fixed rate and
// plays them through a single shared oto context.
type OtoPlayer struct {
	sampleRate int
	bufferSize time.Duration
	logger     zerolog.Logger

	once sync.Once
	ctx  *oto.Context
	err  error
}

func NewOtoPlayer(sampleRate int, logger zerolog.Logger) *OtoPlayer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &OtoPlayer{
		sampleRate: sampleRate,
		bufferSize: 100 * time.Millisecond,
		logger:     logger.With().Str("component", "oto-player").Logger(),
	}
}

// Open decodes the file at path. A missing file yields an error wrapping
// fs.ErrNotExist and never touches the output device.
func (p *OtoPlayer) Open(path string) (ports.Playback, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pcm, err := decodePCM(filepath.Ext(path), f, p.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	p.logger.Debug().Str("path", path).Dur("length", p.duration(pcm)).Msg("clip decoded")
	return p.newPlayback(pcm)
}

// OpenWAV plays an in-memory WAV file, such as synthesized speech.
func (p *OtoPlayer) OpenWAV(data []byte) (ports.Playback, error) {
	pcm, err := decodePCM(".wav", bytes.NewReader(data), p.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("decode speech: %w", err)
	}
	return p.newPlayback(pcm)
}

func (p *OtoPlayer) newPlayback(pcm []byte) (ports.Playback, error) {
	ctx, err := p.context()
	if err != nil {
		return nil, err
	}
	return &otoPlayback{player: ctx.NewPlayer(bytes.NewReader(pcm))}, nil
}

func (p *OtoPlayer) context() (*oto.Context, error) {
	p.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   p.sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   p.bufferSize,
		})
		if err != nil {
			p.err = fmt.Errorf("open audio output: %w", err)
			return
		}
		<-ready
		p.ctx = ctx
		p.logger.Info().Int("sample_rate", p.sampleRate).Msg("audio output ready")
	})
	return p.ctx, p.err
}

func (p *OtoPlayer) duration(pcm []byte) time.Duration {
	return time.Duration(len(pcm)/2) * time.Second / time.Duration(p.sampleRate)
}

type otoPlayback struct {
	player *oto.Player

	stopOnce sync.Once
	stopErr  error
}

func (p *otoPlayback) Play()                    { p.player.Play() }
func (p *otoPlayback) IsPlaying() bool          { return p.player.IsPlaying() }
func (p *otoPlayback) SetVolume(volume float64) { p.player.SetVolume(volume) }

func (p *otoPlayback) Stop() error {
	p.stopOnce.Do(func() {
		p.player.Pause()
		p.stopErr = p.player.Close()
	})
	return p.stopErr
}

// decodePCM decodes r by extension and resamples it to mono s16le at rate.
func decodePCM(ext string, r io.ReadSeeker, rate int) ([]byte, error) {
	src, err := openSource(ext, r)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	samples, _, err := audpbx.ResampleToMono16(src, rate, resampleChunk)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out, nil
}

func openSource(ext string, r io.ReadSeeker) (pbx.Source, error) {
	switch strings.ToLower(ext) {
	case ".mp3":
		return mp3.Decoder{}.Decode(r)
	case ".ogg", ".oga":
		return vorbis.Decoder{}.Decode(r)
	case ".wav", ".wave":
		return newWAVSource(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// wavSource adapts a fully decoded WAV buffer to the resampler's source.
type wavSource struct {
	samples    []float32
	pos        int
	sampleRate int
	channels   int
}

func newWAVSource(r io.ReadSeeker) (*wavSource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a PCM wav file", ErrUnsupportedFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav samples: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing wav format", ErrUnsupportedFormat)
	}
	return &wavSource{
		samples:    intBufferToFloat(buf, int(dec.BitDepth)),
		sampleRate: buf.Format.SampleRate,
		channels:   buf.Format.NumChannels,
	}, nil
}

func intBufferToFloat(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out
}

func (s *wavSource) SampleRate() int { return s.sampleRate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) BufSize() int    { return resampleChunk }
func (s *wavSource) Close() error    { return nil }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	return n, nil
}
