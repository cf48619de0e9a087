package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voxdeck/internal/bootstrap"
	"voxdeck/internal/catalog"
	"voxdeck/internal/config"
	"voxdeck/internal/domain"
)

type rootFlags struct {
	envFiles []string
	logLevel string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "voxdeck",
		Short:         "Voice-controlled audio assistant",
		Long:          "voxdeck plays therapy sounds and an interruptible intro, runs a low-latency microphone pass-through and answers questions out loud.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "env files to load before reading the environment (default .env)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides VOXDECK_LOG_LEVEL)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Listen for voice commands",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, flags, func(ctx context.Context, app *App, _ bootstrap.Services) error {
					return app.Run(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "play <type|code|name|path>",
			Short: "Play a sound from the catalog, the sounds folder or a path",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, _ *App, services bootstrap.Services) error {
					return services.Session.PlayClip(ctx, resolveSoundFrom(services.Catalog, services.Config.Sounds, args[0]))
				})
			},
		},
		&cobra.Command{
			Use:   "intro",
			Short: "Play the intro until it ends or the interrupt phrase is heard",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, flags, func(ctx context.Context, _ *App, services bootstrap.Services) error {
					return services.Session.PlayIntroWithInterrupt(ctx)
				})
			},
		},
		newStreamCommand(flags),
		newAskCommand(flags),
		&cobra.Command{
			Use:   "sounds",
			Short: "List the sound catalog",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, flags, func(_ context.Context, _ *App, services bootstrap.Services) error {
					for _, kind := range services.Catalog.Types() {
						entry, _ := services.Catalog.Lookup(kind)
						fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-5s %s\n", entry.Type, entry.Code, entry.Path)
					}
					return nil
				})
			},
		},
	)
	return root
}

func newStreamCommand(flags *rootFlags) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "stream [low|ultra]",
		Short: "Route the microphone to the speakers with gain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preset, err := domain.ParsePreset(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, _ *App, services bootstrap.Services) error {
				if err := services.Session.StartStreaming(preset); err != nil {
					return err
				}
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}
				<-ctx.Done()
				return services.Session.StopStreaming()
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func newAskCommand(flags *rootFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question through the response providers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App, services bootstrap.Services) error {
				result := services.Chain.GenerateDetailed(ctx, strings.Join(args, " "))
				fmt.Fprintln(cmd.OutOrStdout(), result.Text)
				app.logger.Info().Str("provider", result.Provider).Bool("fallback", result.Fallback).Msg("answered")
				if quiet {
					return nil
				}
				return services.Speaker.Say(ctx, result.Text)
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print the answer without speaking it")
	return cmd
}

// withApp loads configuration, builds the services and runs fn under a
// context cancelled by SIGINT or SIGTERM. Teardown always runs.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(context.Context, *App, bootstrap.Services) error) error {
	cfg, err := config.Load(flags.envFiles...)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger := newLogger(level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(logger)
	app.out = cmd.OutOrStdout()
	services, err := bootstrap.Build(ctx, cfg, app, logger)
	if err != nil {
		app.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}
	app.attach(services.Session, services.Listener, services.Chain, services.Speaker, services.Catalog, cfg)
	app.ModeChanged(domain.ModeIdle, domain.ReasonStartup)

	runErr := fn(ctx, app, services)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if err := app.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("audio teardown incomplete")
	}
	if err := services.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to release audio devices")
	}
	return runErr
}

// resolveSoundFrom accepts a catalog type or code, an existing path, or a bare
// name under the sounds folder.
func resolveSoundFrom(sounds *catalog.Catalog, paths config.SoundsConfig, arg string) string {
	if entry, ok := sounds.Lookup(arg); ok {
		return entry.Path
	}
	if _, err := os.Stat(arg); err == nil {
		return arg
	}
	return paths.SoundPath(arg)
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
}
