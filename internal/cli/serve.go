// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shrimpy8/ollama-chat-interface/internal/config"
	"github.com/shrimpy8/ollama-chat-interface/internal/server"
	"github.com/shrimpy8/ollama-chat-interface/internal/storage"
	"github.com/shrimpy8/ollama-chat-interface/internal/util"
)

// shutdownTimeout bounds how long in-flight requests get on exit.
const shutdownTimeout = 15 * time.Second

// serveOverrides applies --host and --port on top of cfg.
func serveOverrides(p *ArgParser, cfg *config.Config) (*config.Config, error) {
	host := p.Flag("host")
	port := p.Flag("port", "p")
	if host == "" && port == "" {
		return cfg, nil
	}
	cfg = cfg.Clone()
	if host != "" {
		cfg.UI.Server.Host = host
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("invalid port %q", port)
		}
		cfg.UI.Server.Port = n
	}
	return cfg, nil
}

// watchPath picks the file --watch follows: the explicit --config, or
// the default TOML location when it exists.
func watchPath(app *App) (string, error) {
	if app.ConfigPath != "" {
		return app.ConfigPath, nil
	}
	path, err := config.PathTOML()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no config file to watch at %s (run 'config init')", path)
	}
	return path, nil
}

// runServe runs the web backend until SIGINT or SIGTERM.
func runServe(app *App, args Args) error {
	p := args.Parser
	cfg, err := serveOverrides(p, app.Cfg)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(app.Log),
		server.WithVersion(Version),
	}
	if archive := app.openArchive(); archive != nil {
		defer archive.Close()
		if removed, err := archive.Prune(context.Background(), storage.DefaultMaxEntries); err != nil {
			app.Log.Warn().Err(err).Msg("archive prune failed")
		} else if removed > 0 {
			app.Log.Info().Int("removed", removed).Msg("pruned old exports")
		}
		opts = append(opts, server.WithArchive(archive))
	}
	srv := server.New(cfg, opts...)

	if !util.IsLoopbackHost(cfg.UI.Server.Host) {
		app.Log.Warn().Str("host", cfg.UI.Server.Host).Msg("web backend is reachable from the network and has no authentication")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if p.BoolFlag("watch") {
		path, err := watchPath(app)
		if err != nil {
			return err
		}
		w, err := config.NewWatcher(path, func(next *config.Config) {
			next = app.applyOverrides(next)
			// The listen address is fixed for the life of the process
			next.UI.Server = cfg.UI.Server
			srv.SetConfig(next)
		}, app.Log)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		go w.Run(ctx)
		defer func() {
			stop()
			<-w.Done()
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(app.Err, "%s http://%s (model %s)\n", render(SuccessStyle, "Serving on"), cfg.ListenAddr(), cfg.Ollama.ModelName)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
