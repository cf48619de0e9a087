package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voxdeck/internal/catalog"
	"voxdeck/internal/config"
	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
	"voxdeck/internal/response"
	"voxdeck/internal/usecase"
)

const wakeWord = "computer"

const helpText = `Commands:
  speaker test             play the test sound
  give me a therapy        play the default therapy sound
  give me <type>           play a therapy sound by type
  play code <1234>         play a therapy sound by code
  play intro               play the intro; say "%s" to fade it out
  play <name>              play sounds/<name>.mp3
  stream low|ultra         start the live microphone pass-through
  stop stream              stop the pass-through
  ask <question>           answer a question out loud
  exit | quit | goodbye    leave`

type audioEngine interface {
	PlayClip(ctx context.Context, path string) error
	PlayIntroWithInterrupt(ctx context.Context) error
	RequestFadeOut() bool
	StartStreaming(preset domain.StreamPreset) error
	StopStreaming() error
	Shutdown(ctx context.Context) error
	Mode() domain.PlaybackMode
}

type responder interface {
	GenerateDetailed(ctx context.Context, question string) response.Result
}

// App maps recognized phrases to engine operations and reports engine
// events through the logger.
type App struct {
	session   audioEngine
	listener  ports.PhraseListener
	responses responder
	speaker   ports.Speaker
	sounds    *catalog.Catalog
	paths     config.SoundsConfig

	interruptPhrase string
	commandTimeout  time.Duration
	shutdownTimeout time.Duration

	out    io.Writer
	logger zerolog.Logger
}

func NewApp(logger zerolog.Logger) *App {
	return &App{
		out:             os.Stdout,
		commandTimeout:  5 * time.Second,
		shutdownTimeout: domain.FadeDuration + time.Second,
		logger:          logger.With().Str("component", "app").Logger(),
	}
}

// attach installs the built services. The App is created first because it
// is the event sink the services report to.
func (a *App) attach(session audioEngine, listener ports.PhraseListener, responses responder, speaker ports.Speaker, sounds *catalog.Catalog, cfg config.Config) {
	a.session = session
	a.listener = listener
	a.responses = responses
	a.speaker = speaker
	a.sounds = sounds
	a.paths = cfg.Sounds
	a.interruptPhrase = cfg.Session.InterruptPhrase
	if cfg.Session.CommandTimeout > 0 {
		a.commandTimeout = cfg.Session.CommandTimeout
	}
}

// Run listens for voice commands until an exit phrase or ctx cancellation.
func (a *App) Run(ctx context.Context) error {
	if a.listener == nil {
		return errors.New("voice input is disabled; set DEEPGRAM_API_KEY")
	}

	a.say("Ready to listen!")
	for ctx.Err() == nil {
		a.logger.Debug().Msg("listening for command")
		text, err := a.listener.Listen(ctx, a.commandTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			a.logger.Warn().Err(err).Msg("could not capture command")
			continue
		}
		if text == "" {
			continue
		}
		a.say("Recognized: %q", text)
		if !a.Dispatch(ctx, text) {
			a.say("Goodbye!")
			return nil
		}
	}
	return nil
}

// Dispatch handles one recognized command and reports whether the command
// loop should keep running.
func (a *App) Dispatch(ctx context.Context, command string) bool {
	fields := strings.Fields(strings.ToLower(command))
	if len(fields) > 0 && fields[0] == wakeWord {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return true
	}
	command = strings.Join(fields, " ")

	switch {
	case isExitCommand(fields):
		return false

	case command == "stop":
		if a.session.Mode() == domain.ModeIdle {
			return false
		}
		a.stopActive()

	case strings.Contains(command, "speaker test"), strings.Contains(command, "speaker on"):
		a.say("Testing speaker...")
		err := a.session.PlayClip(ctx, a.paths.TestFile)
		if errors.Is(err, usecase.ErrClipNotFound) {
			a.say("Speaker test - no test file found, but command recognized!")
			return true
		}
		a.report("speaker test", err)

	case command == "give me a therapy", command == "give me therapy":
		entry, ok := a.sounds.Default()
		if !ok {
			a.say("No therapy sounds available. Please add sound files to the %s/ folder.", a.paths.Dir)
			return true
		}
		a.playEntry(ctx, entry)

	case strings.HasPrefix(command, "give me "):
		kind := strings.TrimPrefix(command, "give me ")
		entry, ok := a.sounds.Lookup(kind)
		if !ok {
			a.say("Therapy type %q not found. Available: %s", kind, strings.Join(a.sounds.Types(), ", "))
			return true
		}
		a.playEntry(ctx, entry)

	case strings.HasPrefix(command, "play code "):
		code := strings.ReplaceAll(strings.TrimPrefix(command, "play code "), " ", "")
		entry, ok := a.sounds.Lookup(code)
		if !catalog.IsCode(code) || !ok {
			a.say("No sound with code %q.", code)
			return true
		}
		a.playEntry(ctx, entry)

	case command == "play intro":
		a.report("play intro", a.session.PlayIntroWithInterrupt(ctx))

	case strings.HasPrefix(command, "play "):
		name := strings.TrimPrefix(command, "play ")
		a.report("play "+name, a.session.PlayClip(ctx, a.paths.SoundPath(name)))

	case strings.HasPrefix(command, "stream"):
		preset, err := domain.ParsePreset(strings.TrimPrefix(command, "stream"))
		if err != nil {
			a.say("Say \"stream low\" or \"stream ultra\".")
			return true
		}
		if err := a.session.StartStreaming(preset); err == nil {
			a.say("Streaming (%s latency). Say \"stop stream\" to end.", preset)
		} else {
			a.report("stream", err)
		}

	case command == "stop stream":
		a.report("stop stream", a.session.StopStreaming())

	case command == normalizeCommand(a.interruptPhrase):
		if !a.session.RequestFadeOut() {
			a.say("Nothing to fade out.")
		}

	case strings.HasPrefix(command, "ask "):
		a.answer(ctx, strings.TrimPrefix(command, "ask "))

	default:
		a.say("Unknown command: %q", command)
		a.say(helpText, a.interruptPhrase)
	}
	return true
}

// Shutdown runs the same teardown as the exit command.
func (a *App) Shutdown() error {
	if a.session == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	return a.session.Shutdown(ctx)
}

func (a *App) playEntry(ctx context.Context, entry catalog.Entry) {
	a.say("Playing %s therapy...", entry.Type)
	a.report("play "+entry.Type, a.session.PlayClip(ctx, entry.Path))
}

func (a *App) stopActive() {
	switch a.session.Mode() {
	case domain.ModeStreaming:
		a.report("stop stream", a.session.StopStreaming())
	case domain.ModePlayingIntro:
		a.session.RequestFadeOut()
	}
}

func (a *App) answer(ctx context.Context, question string) {
	result := a.responses.GenerateDetailed(ctx, question)
	a.logger.Info().
		Str("provider", result.Provider).
		Bool("fallback", result.Fallback).
		Int("attempts", len(result.Attempts)).
		Msg("answered")
	a.say("%s", result.Text)
	if err := a.speaker.Say(ctx, result.Text); err != nil {
		a.logger.Warn().Err(err).Str("mode", string(a.session.Mode())).Msg("could not speak answer")
	}
}

func (a *App) report(op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrBusy):
		a.say("Busy: finish or stop the current audio first.")
	case errors.Is(err, usecase.ErrClipNotFound):
		a.say("Sound file not found.")
	default:
		a.logger.Error().Err(err).Str("op", op).Msg("command failed")
	}
}

func (a *App) say(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

// ModeChanged logs playback mode transitions.
func (a *App) ModeChanged(mode domain.PlaybackMode, reason domain.SessionStateReason) {
	a.logger.Info().Str("mode", string(mode)).Str("reason", string(reason)).Msg(reasonMessage(reason))
}

// PartialTranscript logs live partial transcript text.
func (a *App) PartialTranscript(text string) {
	a.logger.Debug().Str("text", text).Msg("partial transcript")
}

// FinalTranscript logs final transcript output.
func (a *App) FinalTranscript(raw string, normalized string) {
	a.logger.Debug().Str("raw", raw).Str("normalized", normalized).Msg("final transcript")
}

// SessionError logs non-fatal engine errors.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.logger.Warn().Str("code", string(code)).Str("detail", detail).Msg(errorMessage(code, detail))
}

func reasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.ReasonStartup:
		return "Ready"
	case domain.ReasonClipStarted:
		return "Playing clip"
	case domain.ReasonClipFinished:
		return "Finished playing sound"
	case domain.ReasonIntroStarted:
		return "Playing intro"
	case domain.ReasonIntroFinished:
		return "Intro finished"
	case domain.ReasonIntroFaded:
		return "Intro faded out"
	case domain.ReasonStreamingStarted:
		return "Streaming started"
	case domain.ReasonStreamingStopped:
		return "Streaming stopped"
	case domain.ReasonDeviceFault:
		return "Audio device fault"
	case domain.ReasonShutdown:
		return "Audio stopped"
	default:
		return "Mode changed"
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeResourceNotFound:
		return "Sound file not found"
	case domain.ErrorCodeDeviceFault:
		return "Audio device fault"
	case domain.ErrorCodeProviderFailure:
		return "Response provider failed"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// isExitCommand reports whether the command opens with an exit word, so
// "quit now" exits while "ask how do i quit smoking" does not.
func isExitCommand(fields []string) bool {
	switch fields[0] {
	case "exit", "quit", "goodbye":
		return true
	}
	return false
}

func normalizeCommand(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
