// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/shrimpy8/ollama-chat-interface/internal/ollama"
	"github.com/shrimpy8/ollama-chat-interface/internal/util"
)

// statusBackend is the part of *ollama.Client that status needs.
type statusBackend interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// StatusReport is the --json output of status.
type StatusReport struct {
	BaseURL         string             `json:"base_url"`
	Local           bool               `json:"local"`
	Running         bool               `json:"running"`
	Error           string             `json:"error,omitempty"`
	Model           string             `json:"model"`
	ModelInstalled  bool               `json:"model_installed"`
	InstalledModels []ollama.ModelInfo `json:"models"`
}

func checkStatus(ctx context.Context, b statusBackend, baseURL, model string) StatusReport {
	rep := StatusReport{
		BaseURL:         baseURL,
		Local:           util.IsLoopbackURL(baseURL),
		Model:           model,
		InstalledModels: []ollama.ModelInfo{},
	}
	if err := b.CheckRunning(ctx); err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Running = true

	models, err := b.ListModels(ctx)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.InstalledModels = models
	for _, m := range models {
		if m.Name == model {
			rep.ModelInstalled = true
		}
	}
	return rep
}

// runStatus reports whether Ollama is up and the configured model installed.
func runStatus(app *App, b statusBackend) error {
	rep := checkStatus(context.Background(), b, app.Cfg.Ollama.BaseURL, app.Cfg.Ollama.ModelName)

	if app.JSON {
		data, err := marshalIndent(rep)
		if err != nil {
			return err
		}
		fmt.Fprint(app.Out, highlightJSON(data))
	} else {
		printStatus(app, rep)
	}
	if !rep.Running {
		return errReported
	}
	return nil
}

func printStatus(app *App, rep StatusReport) {
	fmt.Fprintln(app.Out, render(TitleStyle, "Ollama status"))
	fmt.Fprintln(app.Out, RenderSeparator(40))
	server := rep.BaseURL
	if !rep.Local {
		server += " " + render(WarningStyle, "(remote: prompts leave this machine)")
	}
	fmt.Fprintf(app.Out, "%s %s\n", RenderLabel("Server:"), server)
	if !rep.Running {
		fmt.Fprintf(app.Out, "%s %s\n", RenderLabel("State:"), RenderStatus("error"))
		fmt.Fprintln(app.Out, render(ErrorStyle, rep.Error))
		fmt.Fprintln(app.Out, render(DimStyle, "Start it with: ollama serve"))
		return
	}
	fmt.Fprintf(app.Out, "%s %s\n", RenderLabel("State:"), RenderStatus("ok"))

	installed := RenderStatus("ok")
	if !rep.ModelInstalled {
		installed = RenderStatus("warning") + " " + render(DimStyle, "ollama pull "+rep.Model)
	}
	fmt.Fprintf(app.Out, "%s %s %s\n", RenderLabel("Model:"), rep.Model, installed)

	if rep.Error != "" {
		fmt.Fprintln(app.Out, render(WarningStyle, rep.Error))
		return
	}
	fmt.Fprintln(app.Out)
	fmt.Fprintln(app.Out, render(SectionStyle, fmt.Sprintf("Installed models (%d)", len(rep.InstalledModels))))
	for _, m := range rep.InstalledModels {
		fmt.Fprintf(app.Out, "  %-32s %10s\n", m.Name, m.FormatSize())
	}
}
