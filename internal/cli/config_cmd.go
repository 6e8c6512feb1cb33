// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/shrimpy8/ollama-chat-interface/internal/config"
)

// runConfig handles config show|path|init|get.
func runConfig(app *App, args Args) error {
	p := args.Parser
	switch sub := p.Subcommand(); sub {
	case "", "show":
		return showConfig(app)

	case "path":
		path, err := configPath(app)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.Out, path)
		return nil

	case "init":
		path, err := configPath(app)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%s %s\n", render(SuccessStyle, "Created"), path)
		return nil

	case "get":
		key := p.Positional(1)
		if key == "" {
			return fmt.Errorf("usage: config get <section.key>")
		}
		v, err := app.Cfg.Get(key)
		if err != nil {
			return err
		}
		switch v.(type) {
		case string, bool, int, float64:
			fmt.Fprintln(app.Out, v)
		default:
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, string(data))
		}
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q (show, path, init, get)", sub)
	}
}

func configPath(app *App) (string, error) {
	if app.ConfigPath != "" {
		return app.ConfigPath, nil
	}
	return config.PathTOML()
}

// showConfig prints the effective configuration, overrides included.
func showConfig(app *App) error {
	if app.JSON {
		data, err := marshalIndent(app.Cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(app.Out, highlightJSON(data))
		return nil
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(app.Cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	app.Out.Write(buf.Bytes())
	return nil
}
