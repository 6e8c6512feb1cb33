// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (overridden at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the top-level command to run.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdServe
	CmdExports
	CmdConfig
	CmdStatus
	CmdVersion
	CmdHelp
)

func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdAsk:
		return "ask"
	case CmdServe:
		return "serve"
	case CmdExports:
		return "exports"
	case CmdConfig:
		return "config"
	case CmdStatus:
		return "status"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// commandNames maps names and aliases to commands.
var commandNames = map[string]Command{
	"chat":      CmdChat,
	"c":         CmdChat,
	"ask":       CmdAsk,
	"a":         CmdAsk,
	"serve":     CmdServe,
	"server":    CmdServe,
	"exports":   CmdExports,
	"config":    CmdConfig,
	"status":    CmdStatus,
	"s":         CmdStatus,
	"version":   CmdVersion,
	"--version": CmdVersion,
	"-v":        CmdVersion,
	"help":      CmdHelp,
	"--help":    CmdHelp,
	"-h":        CmdHelp,
}

// globalBoolFlags never take a value, wherever they appear.
var globalBoolFlags = []string{"verbose", "no-color", "json", "watch", "help", "h"}

// Args holds the parsed command line.
type Args struct {
	// Global flags
	ConfigPath string
	Model      string
	Verbose    bool
	NoColor    bool
	JSON       bool

	// Parser holds everything after the command name
	Parser *ArgParser
}

const usageText = `ollama-chat - chat with a local Ollama model

Usage:
  ollama-chat [command] [flags]

Commands:
  chat                       Interactive chat (default)
  ask "question"             Ask a single question
  serve                      Run the local web backend
  exports list|show <id>     Browse archived exports
  config show|path|init|get  Inspect or create the configuration
  status                     Check the Ollama server and list models
  version                    Show version information
  help                       Show this help

Global flags:
  --config <path>   Configuration file (default ~/.ollama-chat/config.toml)
  --model <name>    Override ollama.model_name
  --verbose         Debug logging on the console
  --no-color        Disable colored output
  --json            Machine-readable output where supported

Examples:
  ollama-chat ask "Explain goroutines in one paragraph"
  ollama-chat ask --json "What is 2+2?"
  ollama-chat serve --port 7860 --watch
  ollama-chat exports list --limit 10
  ollama-chat config get ollama.model_name
`

// PrintUsage writes the help text to w.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information to w.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "ollama-chat %s\n", Version)
	fmt.Fprintf(w, "  commit:  %s\n", GitCommit)
	fmt.Fprintf(w, "  built:   %s\n", BuildDate)
	fmt.Fprintf(w, "  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse interprets argv (without the program name). With no command it
// starts a chat.
func Parse(argv []string) (Command, Args, error) {
	cmd := CmdChat
	rest := argv

	// The command is the first argument that is not a flag or a flag value
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if c, ok := commandNames[a]; ok {
			cmd = c
			rest = append(append([]string{}, argv[:i]...), argv[i+1:]...)
			break
		}
		if strings.HasPrefix(a, "-") {
			name := strings.TrimLeft(a, "-")
			if !strings.Contains(name, "=") && !isGlobalBool(name) {
				i++ // skip the flag's value
			}
			continue
		}
		return CmdHelp, Args{}, fmt.Errorf("unknown command %q", a)
	}

	p := NewArgParser(rest, globalBoolFlags...)
	args := Args{
		ConfigPath: p.Flag("config"),
		Model:      p.Flag("model", "m"),
		Verbose:    p.BoolFlag("verbose"),
		NoColor:    p.BoolFlag("no-color"),
		JSON:       p.BoolFlag("json"),
		Parser:     p,
	}
	if p.BoolFlag("help", "h") {
		cmd = CmdHelp
	}
	return cmd, args, nil
}

func isGlobalBool(name string) bool {
	for _, b := range globalBoolFlags {
		if b == name {
			return true
		}
	}
	return false
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run executes the command line and returns the process exit code.
func Run(argv []string, in io.Reader, out, errOut io.Writer) int {
	cmd, args, err := Parse(argv)
	if err != nil {
		fmt.Fprintln(errOut, render(ErrorStyle, "Error: "+err.Error()))
		PrintUsage(errOut)
		return 2
	}

	switch cmd {
	case CmdHelp:
		PrintUsage(out)
		return 0
	case CmdVersion:
		PrintVersion(out)
		return 0
	}

	app, err := Bootstrap(args, in, out, errOut)
	if err != nil {
		fmt.Fprintln(errOut, render(ErrorStyle, "Error: "+err.Error()))
		return 1
	}
	defer app.Close()

	app.Log.Debug().Str("command", cmd.String()).Str("model", app.Cfg.Ollama.ModelName).Msg("starting")

	switch cmd {
	case CmdChat:
		err = runChat(app, args)
	case CmdAsk:
		err = runAsk(app, args, app.newClient())
	case CmdServe:
		err = runServe(app, args)
	case CmdExports:
		err = runExports(app, args)
	case CmdConfig:
		err = runConfig(app, args)
	case CmdStatus:
		err = runStatus(app, app.newClient())
	}
	return exitCode(app, err)
}

func exitCode(app *App, err error) int {
	if err == nil {
		return 0
	}
	if !errors.Is(err, errReported) {
		app.Log.Debug().Err(err).Msg("command failed")
		app.errorf("Error: %v", err)
	}
	return 1
}
