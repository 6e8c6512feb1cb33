// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/shrimpy8/ollama-chat-interface/internal/config"
	"github.com/shrimpy8/ollama-chat-interface/internal/executor"
	"github.com/shrimpy8/ollama-chat-interface/internal/export"
	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/session"
	"github.com/shrimpy8/ollama-chat-interface/internal/storage"
	"github.com/shrimpy8/ollama-chat-interface/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input. io.EOF or liner.ErrPromptAborted
// end the chat.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// linerInput provides line editing and persistent input history.
type linerInput struct {
	line        *liner.State
	historyFile string
}

func newLinerInput() *linerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &linerInput{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (l *linerInput) Prompt(prompt string) (string, error) {
	input, err := l.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		l.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (l *linerInput) Close() error {
	if err := os.MkdirAll(filepath.Dir(l.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(l.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			l.line.WriteHistory(f)
			f.Close()
		}
	}
	return l.line.Close()
}

// =============================================================================
// CHAT REPL
// =============================================================================

type chatREPL struct {
	app     *App
	sess    *session.Session
	in      lineReader
	params  model.Parameters
	archive *storage.Archive
	spinner bool
}

func newChatREPL(app *App, transport executor.Transport, in lineReader, archive *storage.Archive) *chatREPL {
	return &chatREPL{
		app:     app,
		sess:    session.New(app.Cfg, transport, session.WithLogger(app.Log)),
		in:      in,
		params:  app.Cfg.DefaultParameters(),
		archive: archive,
	}
}

// runChat starts the interactive chat.
func runChat(app *App, args Args) error {
	client := app.newClient()
	if err := client.CheckRunning(context.Background()); err != nil {
		app.Log.Debug().Err(err).Msg("ollama probe failed")
		fmt.Fprintln(app.Err, render(WarningStyle, executor.MsgConnection))
	}

	archive := app.openArchive()
	if archive != nil {
		defer archive.Close()
	}

	in := newLinerInput()
	defer in.Close()

	r := newChatREPL(app, client, in, archive)
	r.spinner = IsStderrTTY()
	params, err := paramsFromFlags(args.Parser, r.params)
	if err != nil {
		return err
	}
	r.params = params
	return r.loop()
}

func (r *chatREPL) loop() error {
	r.printBanner()
	for {
		input, err := r.in.Prompt("> ")
		if err != nil {
			// Ctrl+C, Ctrl+D and closed input all end the chat
			fmt.Fprintln(r.app.Out)
			r.printExit()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if !r.command(input) {
				r.printExit()
				return nil
			}
			continue
		}
		r.ask(input)
	}
}

func (r *chatREPL) printBanner() {
	cfg := r.sess.Config()
	fmt.Fprintln(r.app.Out, render(TitleStyle, cfg.UI.Title))
	if cfg.UI.Description != "" {
		fmt.Fprintln(r.app.Out, render(DimStyle, cfg.UI.Description))
	}
	fmt.Fprintf(r.app.Out, "%s %s\n", RenderLabel("Model:"), render(ValueStyle, cfg.Ollama.ModelName))
	memory := "on"
	if !cfg.Conversation.MemoryEnabled {
		memory = "off"
	}
	fmt.Fprintf(r.app.Out, "%s %s\n", RenderLabel("Memory:"), render(ValueStyle, memory))
	fmt.Fprintln(r.app.Out, render(DimStyle, "Type /help for commands, /quit to exit."))
	fmt.Fprintln(r.app.Out)
}

func (r *chatREPL) printExit() {
	st := r.sess.Stats()
	fmt.Fprintln(r.app.Out, render(DimStyle, fmt.Sprintf("Goodbye. %d exchange(s), %d request(s), %d failure(s).",
		st.Exchanges, st.Requests, st.Failures)))
}

// ask submits one message. Ctrl+C while waiting cancels the request.
func (r *chatREPL) ask(message string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := withSpinner(r.spinner, r.app.Err, "Thinking", func() submitOutcome {
		reply, err := r.sess.Submit(ctx, message, r.params)
		return submitOutcome{reply, err}
	})

	var perr *model.ParameterError
	switch {
	case errors.As(out.err, &perr):
		r.app.errorf("%v (use /params and /set)", perr)
		return
	case out.err != nil:
		r.app.errorf("%v", out.err)
		return
	}

	reply := out.reply
	if !reply.OK() {
		r.app.errorf("%s", reply.Text)
		return
	}
	fmt.Fprintln(r.app.Out, render(AssistantStyle, "Assistant:"))
	fmt.Fprintln(r.app.Out, renderResponse(reply.Text))
	meta := fmt.Sprintf("[%s", reply.Elapsed.Round(100*time.Millisecond))
	if reply.Attempts > 1 {
		meta += fmt.Sprintf(" | %d attempts", reply.Attempts)
	}
	meta += "]"
	fmt.Fprintln(r.app.Out, render(DimStyle, meta))
	if reply.Evicted > 0 {
		fmt.Fprintln(r.app.Out, render(DimStyle, fmt.Sprintf("(%d oldest exchange(s) dropped from history)", reply.Evicted)))
	}
	fmt.Fprintln(r.app.Out)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /help                 Show this help
  /clear                Forget the conversation
  /history              List the remembered exchanges
  /export [json|md]     Save the conversation to a file
  /params               Show generation parameters
  /set <name> <value>   Change temperature, top_p, top_k or max_tokens
  /stats                Show session statistics
  /quit                 Exit`

// command runs a slash command and reports whether the chat continues.
func (r *chatREPL) command(input string) bool {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	rest := fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return false
	case "/help", "/h", "/?":
		fmt.Fprintln(r.app.Out, chatHelp)
	case "/clear":
		r.sess.Clear()
		fmt.Fprintln(r.app.Out, render(SuccessStyle, "Conversation cleared."))
	case "/history":
		r.printHistory()
	case "/export", "/save":
		r.export(rest)
	case "/params":
		r.printParams()
	case "/set":
		r.set(rest)
	case "/stats":
		r.printStats()
	default:
		r.app.errorf("Unknown command %s. Type /help for a list.", fields[0])
	}
	return true
}

func (r *chatREPL) printHistory() {
	history := r.sess.History()
	if len(history) == 0 {
		fmt.Fprintln(r.app.Out, render(DimStyle, "No conversation yet."))
		return
	}
	cfg := r.sess.Config()
	width := GetTerminalWidth() - 12
	for i, ex := range history {
		prefix := fmt.Sprintf("%2d.", i+1)
		if cfg.UI.History.ShowTimestamps {
			prefix += " " + render(DimStyle, ex.Timestamp.Local().Format("15:04:05"))
		}
		fmt.Fprintf(r.app.Out, "%s %s %s\n", prefix, render(UserStyle, "You:"),
			util.TruncateWidth(util.OneLine(ex.Prompt), width))
		fmt.Fprintf(r.app.Out, "    %s %s\n", render(AssistantStyle, "AI:"),
			util.TruncateWidth(util.OneLine(ex.Response), width))
	}
	fmt.Fprintln(r.app.Out, render(DimStyle, fmt.Sprintf("%d of %d exchanges kept", len(history), cfg.UI.History.MaxMessages)))
}

func (r *chatREPL) export(args []string) {
	format := export.FormatJSON
	if len(args) > 0 {
		f, err := export.ParseFormat(args[0])
		if err != nil {
			r.app.errorf("%v (use json or md)", err)
			return
		}
		format = f
	}

	path, out, err := r.sess.Save(r.app.outputDir(), format)
	if err != nil {
		r.app.errorf("Export failed: %v", err)
		return
	}
	if r.archive != nil {
		_, err := r.archive.Record(context.Background(), storage.Entry{
			SessionID:     r.sess.ID(),
			Format:        string(out.Format),
			Filename:      out.Filename,
			Model:         r.sess.Config().Ollama.ModelName,
			ExchangeCount: out.Exchanges,
			CreatedAt:     out.CreatedAt,
			Content:       out.Data,
		})
		if err != nil {
			r.app.Log.Warn().Err(err).Msg("failed to archive export")
		}
	}
	fmt.Fprintf(r.app.Out, "%s %s (%d exchange(s))\n", render(SuccessStyle, "Saved"), path, out.Exchanges)
}

func (r *chatREPL) printParams() {
	p := r.params
	fmt.Fprintf(r.app.Out, "%s %.2f  %s\n", RenderLabel("temperature"), p.Temperature, render(DimStyle, rangeText(model.TemperatureRange)))
	fmt.Fprintf(r.app.Out, "%s %.2f  %s\n", RenderLabel("top_p"), p.TopP, render(DimStyle, rangeText(model.TopPRange)))
	fmt.Fprintf(r.app.Out, "%s %d  %s\n", RenderLabel("top_k"), p.TopK, render(DimStyle, rangeText(model.TopKRange)))
	fmt.Fprintf(r.app.Out, "%s %d  %s\n", RenderLabel("max_tokens"), p.MaxTokens, render(DimStyle, rangeText(model.MaxTokensRange)))
}

func rangeText(rg model.Range) string {
	return fmt.Sprintf("[%g..%g]", rg.Min, rg.Max)
}

// set changes one parameter. Out-of-range values leave the current
// parameters untouched.
func (r *chatREPL) set(args []string) {
	if len(args) != 2 {
		r.app.errorf("Usage: /set <name> <value>")
		return
	}
	next := r.params
	if err := setParam(&next, args[0], args[1]); err != nil {
		r.app.errorf("%v", err)
		return
	}
	if err := next.Validate(); err != nil {
		r.app.errorf("%v", err)
		return
	}
	r.params = next
	fmt.Fprintf(r.app.Out, "%s %s\n", render(SuccessStyle, "Set"), next)
}

func (r *chatREPL) printStats() {
	st := r.sess.Stats()
	fmt.Fprintf(r.app.Out, "%s %s\n", RenderLabel("Session:"), st.ID)
	fmt.Fprintf(r.app.Out, "%s %s\n", RenderLabel("Model:"), st.Model)
	fmt.Fprintf(r.app.Out, "%s %d / %d\n", RenderLabel("Exchanges:"), st.Exchanges, st.MaxMessages)
	fmt.Fprintf(r.app.Out, "%s %d (%d failed)\n", RenderLabel("Requests:"), st.Requests, st.Failures)
	fmt.Fprintf(r.app.Out, "%s %d\n", RenderLabel("Evicted:"), st.Evicted)
}
