// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shrimpy8/ollama-chat-interface/internal/executor"
	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/session"
)

// maxStdinPrompt caps a question read from standard input.
const maxStdinPrompt = 1 << 20

// errReported means the failure was already shown to the user; the
// process should only exit non-zero.
var errReported = errors.New("error already reported")

// =============================================================================
// PARAMETERS
// =============================================================================

// setParam parses value into the parameter named key.
func setParam(p *model.Parameters, key, value string) error {
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "temperature", "temp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("temperature must be a number: %q", value)
		}
		p.Temperature = f
	case "top_p":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("top_p must be a number: %q", value)
		}
		p.TopP = f
	case "top_k":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("top_k must be an integer: %q", value)
		}
		p.TopK = n
	case "max_tokens", "num_predict":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_tokens must be an integer: %q", value)
		}
		p.MaxTokens = n
	default:
		return fmt.Errorf("unknown parameter %q (temperature, top_p, top_k, max_tokens)", key)
	}
	return nil
}

// paramsFromFlags starts from base and applies any parameter flags.
func paramsFromFlags(p *ArgParser, base model.Parameters) (model.Parameters, error) {
	for _, name := range []string{"temperature", "top-p", "top-k", "max-tokens"} {
		if v := p.Flag(name); v != "" {
			if err := setParam(&base, name, v); err != nil {
				return base, err
			}
		}
	}
	return base, base.Validate()
}

// =============================================================================
// ASK COMMAND
// =============================================================================

// AskResult is the --json output of ask.
type AskResult struct {
	OK        bool   `json:"ok"`
	Model     string `json:"model"`
	Response  string `json:"response"`
	ErrorKind string `json:"error_kind,omitempty"`
	Attempts  int    `json:"attempts"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type submitOutcome struct {
	reply session.Reply
	err   error
}

// runAsk sends one question and prints the answer.
func runAsk(app *App, args Args, transport executor.Transport) error {
	p := args.Parser
	question := strings.Join(p.PositionalFrom(0), " ")
	if strings.TrimSpace(question) == "" && app.In != nil && !IsTTY() {
		data, err := io.ReadAll(io.LimitReader(app.In, maxStdinPrompt))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		question = string(data)
	}

	params, err := paramsFromFlags(p, app.Cfg.DefaultParameters())
	if err != nil {
		return err
	}

	cfg := app.Cfg
	if sys := p.Flag("system"); sys != "" {
		cfg = cfg.Clone()
		cfg.Conversation.SystemPrompt = sys
	}
	sess := session.New(cfg, transport, session.WithLogger(app.Log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	showSpinner := !app.JSON && IsStderrTTY()
	out := withSpinner(showSpinner, app.Err, "Thinking", func() submitOutcome {
		reply, err := sess.Submit(ctx, question, params)
		return submitOutcome{reply, err}
	})
	if out.err != nil {
		return out.err
	}
	reply := out.reply

	if app.JSON {
		res := AskResult{
			OK:        reply.OK(),
			Model:     cfg.Ollama.ModelName,
			Response:  reply.Text,
			Attempts:  reply.Attempts,
			ElapsedMs: reply.Elapsed.Milliseconds(),
		}
		if reply.Failure != nil {
			res.ErrorKind = reply.Failure.Kind.String()
		}
		data, err := marshalIndent(res)
		if err != nil {
			return err
		}
		app.Out.Write(data)
		if !reply.OK() {
			return errReported
		}
		return nil
	}

	if !reply.OK() {
		app.errorf("%s", reply.Text)
		return errReported
	}
	fmt.Fprintln(app.Out, renderResponse(reply.Text))
	if args.Verbose {
		fmt.Fprintln(app.Err, render(DimStyle, fmt.Sprintf("[%s | %d attempt(s) | %s]",
			cfg.Ollama.ModelName, reply.Attempts, reply.Elapsed.Round(time.Millisecond))))
	}
	return nil
}
