package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxdeck/internal/catalog"
	"voxdeck/internal/config"
	"voxdeck/internal/domain"
	"voxdeck/internal/response"
	"voxdeck/internal/usecase"
)

type fakeEngine struct {
	mu        sync.Mutex
	mode      domain.PlaybackMode
	clips     []string
	intros    int
	presets   []domain.StreamPreset
	stops     int
	fades     int
	shutdowns int
	clipErr   error
}

func (f *fakeEngine) PlayClip(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clips = append(f.clips, path)
	return f.clipErr
}

func (f *fakeEngine) PlayIntroWithInterrupt(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intros++
	return nil
}

func (f *fakeEngine) RequestFadeOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode != domain.ModePlayingIntro {
		return false
	}
	f.fades++
	return true
}

func (f *fakeEngine) StartStreaming(preset domain.StreamPreset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode != domain.ModeIdle {
		return usecase.ErrBusy
	}
	f.presets = append(f.presets, preset)
	f.mode = domain.ModeStreaming
	return nil
}

func (f *fakeEngine) StopStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode == domain.ModeStreaming {
		f.mode = domain.ModeIdle
		f.stops++
	}
	return nil
}

func (f *fakeEngine) Shutdown(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	f.mode = domain.ModeIdle
	return nil
}

func (f *fakeEngine) Mode() domain.PlaybackMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

type fakeResponder struct {
	questions []string
}

func (f *fakeResponder) GenerateDetailed(_ context.Context, question string) response.Result {
	f.questions = append(f.questions, question)
	return response.Result{Text: "It is a lovely day.", Provider: "fake"}
}

type fakeSpeaker struct {
	said []string
}

func (f *fakeSpeaker) Say(_ context.Context, text string) error {
	f.said = append(f.said, text)
	return nil
}

type scriptedListener struct {
	mu      sync.Mutex
	replies []string
	errs    []error
}

func (l *scriptedListener) Listen(ctx context.Context, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.replies) == 0 {
		<-ctx.Done()
		return "", ctx.Err()
	}
	reply, err := l.replies[0], l.errs[0]
	l.replies, l.errs = l.replies[1:], l.errs[1:]
	return reply, err
}

type harness struct {
	app       *App
	engine    *fakeEngine
	responses *fakeResponder
	speaker   *fakeSpeaker
	out       *bytes.Buffer
}

func newHarness(t *testing.T) harness {
	t.Helper()

	sounds, _, err := catalog.Parse(strings.NewReader("type,filename,code\ncalm,calm1.mp3,1001\nnature,nature1.mp3,1004\n"), "sounds")
	if err != nil {
		t.Fatalf("catalog parse failed: %v", err)
	}

	h := harness{
		engine:    &fakeEngine{mode: domain.ModeIdle},
		responses: &fakeResponder{},
		speaker:   &fakeSpeaker{},
		out:       &bytes.Buffer{},
	}
	h.app = NewApp(zerolog.Nop())
	h.app.out = h.out
	h.app.attach(h.engine, nil, h.responses, h.speaker, sounds, config.Config{
		Sounds:  config.SoundsConfig{Dir: "sounds", TestFile: filepath.Join("sounds", "test.mp3")},
		Session: config.SessionConfig{InterruptPhrase: "stop music", CommandTimeout: time.Second},
	})
	return h
}

func TestDispatchExitWords(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, command := range []string{"exit", "computer quit now", "Goodbye", "stop"} {
		if h.app.Dispatch(context.Background(), command) {
			t.Fatalf("expected %q to end the command loop", command)
		}
	}
}

func TestDispatchExitWordInsideCommandKeepsRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	if !h.app.Dispatch(ctx, "ask how do I quit smoking") {
		t.Fatalf("a question mentioning quit must not end the command loop")
	}
	if !h.app.Dispatch(ctx, "computer ask what is the exit velocity of earth") {
		t.Fatalf("a question mentioning exit must not end the command loop")
	}
	if !h.app.Dispatch(ctx, "play goodbye") {
		t.Fatalf("playing a clip named goodbye must not end the command loop")
	}

	want := []string{"how do i quit smoking", "what is the exit velocity of earth"}
	if strings.Join(h.responses.questions, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected questions: %v", h.responses.questions)
	}
	if len(h.engine.clips) != 1 || h.engine.clips[0] != filepath.Join("sounds", "goodbye.mp3") {
		t.Fatalf("unexpected clips: %v", h.engine.clips)
	}
}

func TestDispatchBareStopWhileStreamingStopsStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if !h.app.Dispatch(context.Background(), "stream ultra") {
		t.Fatalf("stream should keep running")
	}
	if !h.app.Dispatch(context.Background(), "stop") {
		t.Fatalf("stop while streaming should not exit")
	}
	if h.engine.stops != 1 || h.engine.Mode() != domain.ModeIdle {
		t.Fatalf("expected stream stopped, stops=%d mode=%s", h.engine.stops, h.engine.Mode())
	}
	if len(h.engine.presets) != 1 || h.engine.presets[0] != domain.PresetUltra {
		t.Fatalf("expected ultra preset, got %v", h.engine.presets)
	}
}

func TestDispatchTherapyCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.app.Dispatch(ctx, "computer give me a therapy")
	h.app.Dispatch(ctx, "give me nature")
	h.app.Dispatch(ctx, "play code 1004")
	h.app.Dispatch(ctx, "give me jazz")
	h.app.Dispatch(ctx, "play rain")

	want := []string{
		filepath.Join("sounds", "calm1.mp3"),
		filepath.Join("sounds", "nature1.mp3"),
		filepath.Join("sounds", "nature1.mp3"),
		filepath.Join("sounds", "rain.mp3"),
	}
	if strings.Join(h.engine.clips, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected clips: %v", h.engine.clips)
	}
	if !strings.Contains(h.out.String(), `Therapy type "jazz" not found. Available: calm, nature`) {
		t.Fatalf("expected unknown type message, got %q", h.out.String())
	}
}

func TestDispatchSpeakerTestWithoutFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.engine.clipErr = usecase.ErrClipNotFound

	if !h.app.Dispatch(context.Background(), "computer speaker on") {
		t.Fatalf("speaker test should keep running")
	}
	if len(h.engine.clips) != 1 || h.engine.clips[0] != filepath.Join("sounds", "test.mp3") {
		t.Fatalf("expected test clip, got %v", h.engine.clips)
	}
	if !strings.Contains(h.out.String(), "no test file found, but command recognized") {
		t.Fatalf("expected missing test file message, got %q", h.out.String())
	}
}

func TestDispatchIntroAndInterruptPhrase(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.app.Dispatch(context.Background(), "computer play intro")
	if h.engine.intros != 1 || len(h.engine.clips) != 0 {
		t.Fatalf("expected one intro and no clips, got %d intros, clips %v", h.engine.intros, h.engine.clips)
	}

	h.app.Dispatch(context.Background(), "stop music")
	if !strings.Contains(h.out.String(), "Nothing to fade out.") {
		t.Fatalf("expected no-op fade message, got %q", h.out.String())
	}

	h.engine.mode = domain.ModePlayingIntro
	h.app.Dispatch(context.Background(), "stop music")
	if h.engine.fades != 1 {
		t.Fatalf("expected fade request, got %d", h.engine.fades)
	}
}

func TestDispatchBusyIsReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.engine.clipErr = usecase.ErrBusy

	h.app.Dispatch(context.Background(), "give me calm")
	if !strings.Contains(h.out.String(), "Busy") {
		t.Fatalf("expected busy message, got %q", h.out.String())
	}
}

func TestDispatchAskSpeaksAnswer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.app.Dispatch(context.Background(), "ask what is the weather")

	if len(h.responses.questions) != 1 || h.responses.questions[0] != "what is the weather" {
		t.Fatalf("unexpected questions: %v", h.responses.questions)
	}
	if len(h.speaker.said) != 1 || h.speaker.said[0] != "It is a lovely day." {
		t.Fatalf("unexpected speech: %v", h.speaker.said)
	}
}

func TestDispatchUnknownCommandPrintsHelp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if !h.app.Dispatch(context.Background(), "make coffee") {
		t.Fatalf("unknown command should keep running")
	}
	out := h.out.String()
	if !strings.Contains(out, `Unknown command: "make coffee"`) || !strings.Contains(out, `say "stop music" to fade it out`) {
		t.Fatalf("expected help text, got %q", out)
	}
}

func TestRunStopsOnExitAndSkipsFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.app.listener = &scriptedListener{
		replies: []string{"", "", "give me calm", "goodbye"},
		errs:    []error{errors.New("mic busy"), nil, nil, nil},
	}

	if err := h.app.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.engine.clips) != 1 {
		t.Fatalf("expected one clip before exit, got %v", h.engine.clips)
	}
	if !strings.Contains(h.out.String(), "Goodbye!") {
		t.Fatalf("expected goodbye, got %q", h.out.String())
	}
}

func TestRunReturnsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.app.listener = &scriptedListener{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancellation")
	}
}

func TestRunRequiresListener(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.app.Run(context.Background()); err == nil {
		t.Fatalf("expected error without a listener")
	}
}

func TestShutdownUsesSession(t *testing.T) {
	t.Parallel()

	if err := NewApp(zerolog.Nop()).Shutdown(); err != nil {
		t.Fatalf("shutdown without session should be a no-op: %v", err)
	}

	h := newHarness(t)
	if err := h.app.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.engine.shutdowns != 1 {
		t.Fatalf("expected one shutdown, got %d", h.engine.shutdowns)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:          "Startup failed",
		domain.ErrorCodeResourceNotFound: "Sound file not found",
		domain.ErrorCodeDeviceFault:      "Audio device fault",
		domain.ErrorCodeProviderFailure:  "Response provider failed",
		domain.ErrorCodeRules:            "Rules processing failed",
		domain.ErrorCodeTranscription:    "Transcription error",
	}
	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestResolveSoundPrefersCatalog(t *testing.T) {
	t.Parallel()

	sounds, _, err := catalog.Parse(strings.NewReader("type,filename\ncalm,calm1.mp3\n"), "sounds")
	if err != nil {
		t.Fatalf("catalog parse failed: %v", err)
	}

	got := resolveSoundFrom(sounds, config.SoundsConfig{Dir: "sounds"}, "calm")
	if got != filepath.Join("sounds", "calm1.mp3") {
		t.Fatalf("unexpected catalog path %q", got)
	}
	if got := resolveSoundFrom(sounds, config.SoundsConfig{Dir: "sounds"}, "birds"); got != filepath.Join("sounds", "birds.mp3") {
		t.Fatalf("unexpected fallback path %q", got)
	}
}
