package usecase

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

type modeEvent struct {
	mode   domain.PlaybackMode
	reason domain.SessionStateReason
}

type errorEvent struct {
	code   domain.ErrorCode
	detail string
}

type finalEvent struct {
	raw        string
	normalized string
}

type fakeEventSink struct {
	mu       sync.Mutex
	modes    []modeEvent
	errors   []errorEvent
	partials []string
	finals   []finalEvent
}

func (f *fakeEventSink) ModeChanged(mode domain.PlaybackMode, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, modeEvent{mode: mode, reason: reason})
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) FinalTranscript(raw string, normalized string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, finalEvent{raw: raw, normalized: normalized})
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotModes() []modeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]modeEvent(nil), f.modes...)
}

func (f *fakeEventSink) snapshotErrors() []errorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errorEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotPartials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.partials...)
}

func (f *fakeEventSink) snapshotFinals() []finalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]finalEvent(nil), f.finals...)
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeAudioSession struct {
	mu      sync.Mutex
	chunks  [][]byte
	stopped bool
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[0])
	f.chunks = f.chunks[1:]
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

type fakeAudioCapture struct {
	session *fakeAudioSession
	err     error
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// scriptedStream replays a fixed set of transcript events and then closes.
type scriptedStream struct {
	events chan domain.TranscriptEvent

	mu   sync.Mutex
	sent int
}

func newScriptedStream(events ...domain.TranscriptEvent) *scriptedStream {
	ch := make(chan domain.TranscriptEvent, len(events))
	for _, event := range events {
		ch <- event
	}
	close(ch)
	return &scriptedStream{events: ch}
}

func (s *scriptedStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent += len(chunk)
	return nil
}

func (s *scriptedStream) CloseSend() error                      { return nil }
func (s *scriptedStream) Events() <-chan domain.TranscriptEvent { return s.events }
func (s *scriptedStream) Wait() error                           { return nil }
func (s *scriptedStream) Close() error                          { return nil }

type fakeProvider struct {
	stream ports.StreamingSession
	err    error
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakePlayback struct {
	mu      sync.Mutex
	playing bool
	volumes []float64
	stops   int
}

func (p *fakePlayback) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
}

func (p *fakePlayback) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayback) SetVolume(volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumes = append(p.volumes, volume)
}

func (p *fakePlayback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.stops++
	return nil
}

func (p *fakePlayback) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

func (p *fakePlayback) snapshotVolumes() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.volumes...)
}

func (p *fakePlayback) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

type fakePlayer struct {
	err    error
	opened chan *fakePlayback
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{opened: make(chan *fakePlayback, 16)}
}

func (f *fakePlayer) Open(_ string) (ports.Playback, error) {
	if f.err != nil {
		return nil, f.err
	}
	playback := &fakePlayback{}
	f.opened <- playback
	return playback, nil
}

func (f *fakePlayer) next(t *testing.T) *fakePlayback {
	t.Helper()
	select {
	case playback := <-f.opened:
		return playback
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback to open")
		return nil
	}
}

type fakeDuplexStream struct {
	mu       sync.Mutex
	started  int
	closes   int
	startErr error
}

func (s *fakeDuplexStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return s.startErr
}

func (s *fakeDuplexStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeDuplexStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeDriver struct {
	mu       sync.Mutex
	openErr  error
	startErr error
	streams  []*fakeDuplexStream
	configs  []domain.StreamConfig
	process  ports.ProcessFunc
	onFault  func(error)
}

func (d *fakeDriver) Open(cfg domain.StreamConfig, process ports.ProcessFunc, onFault func(error)) (ports.DuplexStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	stream := &fakeDuplexStream{startErr: d.startErr}
	d.streams = append(d.streams, stream)
	d.configs = append(d.configs, cfg)
	d.process = process
	d.onFault = onFault
	return stream, nil
}

func (d *fakeDriver) last() (*fakeDuplexStream, domain.StreamConfig, ports.ProcessFunc, func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil, domain.StreamConfig{}, nil, nil
	}
	return d.streams[len(d.streams)-1], d.configs[len(d.configs)-1], d.process, d.onFault
}

type fakeListener struct {
	listen func(ctx context.Context, timeout time.Duration) (string, error)
}

func (f *fakeListener) Listen(ctx context.Context, timeout time.Duration) (string, error) {
	return f.listen(ctx, timeout)
}

// silentListener blocks until ctx is done, like a microphone in a quiet room.
func silentListener() *fakeListener {
	return &fakeListener{listen: func(ctx context.Context, timeout time.Duration) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(timeout):
			return "", nil
		}
	}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
