package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/paperlens/internal"
	"github.com/starford/paperlens/internal/paperservice"
	pkgconfig "github.com/starford/paperlens/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if url := cmd.String("backend"); url != "" {
		cfg.Backend.BaseURL = url
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid backend url: %w", err)
		}
	}
	return cfg, nil
}

// openRuntime assembles the client for a one-shot command. Logs go to
// stderr so stdout only carries command output.
func openRuntime(cmd *cli.Command) (*internal.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	level := cfg.App.LogLevel
	if !cmd.Bool("verbose") && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rt, err := internal.NewRuntime(
		internal.WithConfig(cfg),
		internal.WithLogger(logger),
		internal.WithNotifier(paperservice.NewWriterNotifier(os.Stderr)),
	)
	if err != nil {
		return nil, fmt.Errorf("app init error: %w", err)
	}
	return rt, nil
}

// withRuntime wraps a command action with runtime setup and teardown.
func withRuntime(fn func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		out, err := newPrinter(cmd.String("format"))
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				slog.Warn("close runtime", slog.String("error", err.Error()))
			}
		}()
		return fn(ctx, cmd, rt, out)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "paperlens",
		Usage:   "Search, bookmark and get recommendations for arXiv papers",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("PAPERLENS_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Override backend.base_url",
				Sources: cli.EnvVars("PAPERLENS_BACKEND_URL"),
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, json or yaml",
				Value:   formatText,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at the configured level instead of warnings only",
			},
		},
		Commands: commands(),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
