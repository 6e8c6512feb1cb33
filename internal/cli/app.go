// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/shrimpy8/ollama-chat-interface/internal/config"
	"github.com/shrimpy8/ollama-chat-interface/internal/logging"
	"github.com/shrimpy8/ollama-chat-interface/internal/ollama"
	"github.com/shrimpy8/ollama-chat-interface/internal/storage"
)

// App carries what every command needs: the loaded configuration, a
// logger and the output streams.
type App struct {
	Cfg        *config.Config
	Log        zerolog.Logger
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	ConfigPath string
	JSON       bool

	// model is the --model override, reapplied on config reload
	model  string
	closer io.Closer
}

// Bootstrap loads configuration, applies global flags and sets up logging.
// Call Close when done.
func Bootstrap(args Args, in io.Reader, out, errOut io.Writer) (*App, error) {
	if args.NoColor {
		SetColorsEnabled(false)
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	app := &App{
		In:         in,
		Out:        out,
		Err:        errOut,
		ConfigPath: args.ConfigPath,
		JSON:       args.JSON,
		model:      args.Model,
	}
	cfg = app.applyOverrides(cfg)

	settings := logging.Settings{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		File:        cfg.Logging.File,
		Console:     cfg.Logging.Console,
		FileLogging: cfg.Logging.FileLogging,
		NoColor:     !ColorsEnabled(),
	}
	if args.Verbose {
		settings.Level = "DEBUG"
		settings.Console = true
	}
	log, closer, err := logging.Setup(settings, errOut)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	app.Cfg = cfg
	app.Log = log
	app.closer = closer
	return app, nil
}

// applyOverrides returns cfg with command-line overrides applied. cfg
// itself is never modified.
func (a *App) applyOverrides(cfg *config.Config) *config.Config {
	if a.model == "" {
		return cfg
	}
	cfg = cfg.Clone()
	cfg.Ollama.ModelName = a.model
	return cfg
}

// Close releases the log file, if any.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func (a *App) newClient() *ollama.Client {
	return ollama.NewClient(ollama.ClientConfig{
		BaseURL:      a.Cfg.Ollama.BaseURL,
		GeneratePath: a.Cfg.Ollama.APIEndpoint,
	})
}

// openArchive opens the export archive, or returns nil when archiving is
// disabled. A failure to open is logged and treated as disabled.
func (a *App) openArchive() *storage.Archive {
	if !a.Cfg.Export.ArchiveEnabled {
		return nil
	}
	path, err := a.Cfg.ArchivePath()
	if err != nil {
		a.Log.Warn().Err(err).Msg("cannot resolve archive path")
		return nil
	}
	archive, err := storage.Open(path)
	if err != nil {
		a.Log.Warn().Err(err).Str("path", path).Msg("cannot open export archive")
		return nil
	}
	return archive
}

// outputDir is where chat exports are written.
func (a *App) outputDir() string {
	if a.Cfg.Export.OutputDir != "" {
		return a.Cfg.Export.OutputDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func (a *App) errorf(format string, args ...any) {
	fmt.Fprintln(a.Err, render(ErrorStyle, fmt.Sprintf(format, args...)))
}
