// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog logger shared by every component.
//
// Output goes to the console (stderr), an append-only log file, or both.
// A log file that cannot be opened is reported on the console and skipped
// rather than failing startup.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Settings mirrors the logging section of the configuration.
type Settings struct {
	Level       string
	Format      string // "console" or "json"
	File        string
	Console     bool
	FileLogging bool
	// NoColor disables ANSI colour on the console writer
	NoColor bool
}

// ParseLevel maps configuration level names to zerolog levels. It accepts
// DEBUG, INFO, WARNING/WARN, ERROR and CRITICAL in any case.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "", "INFO":
		return zerolog.InfoLevel, nil
	case "WARNING", "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup builds a logger from s. The returned Closer releases the log file
// and must be called on shutdown; it is never nil.
func Setup(s Settings, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	var warnings []string

	if s.FileLogging && s.File != "" {
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot open log file %s: %v; logging to console only", s.File, err))
		} else {
			// Files always get JSON lines so they stay machine-readable
			writers = append(writers, f)
			closer = f
		}
	}

	// Fall back to the console when the file was the only sink and failed
	if s.Console || len(writers) == 0 {
		writers = append(writers, consoleWriter(s, stderr))
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}
	return logger, closer, nil
}

func consoleWriter(s Settings, w io.Writer) io.Writer {
	if s.Format == "json" {
		return w
	}
	noColor := s.NoColor || os.Getenv("NO_COLOR") != ""
	if f, ok := w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		noColor = true
	} else if !ok {
		noColor = true
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.DateTime,
	}
}
