// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/util"
)

// ErrUnknownFormat is returned for an unrecognized format name.
var ErrUnknownFormat = errors.New("unknown export format")

// =============================================================================
// FORMATS
// =============================================================================

// Format names an export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts "json", "markdown" and "md", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is everything an exporter needs, captured at one instant.
// Exchanges must already be a copy; exporters never mutate it.
type Snapshot struct {
	Model        string
	SystemPrompt string
	Exchanges    []model.Exchange
	ExportedAt   time.Time
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for conversation exporters.
type Exporter interface {
	// Export renders the snapshot. An empty snapshot is valid input.
	Export(snap Snapshot) ([]byte, error)

	// FileExtension returns the file extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// IncludeTimestamps writes per-exchange timestamps (Markdown only;
	// JSON always carries them).
	IncludeTimestamps bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{IncludeTimestamps: true}
}

// ForFormat returns the exporter for f.
func ForFormat(f Format, opts *Options) (Exporter, error) {
	switch f {
	case FormatJSON:
		return NewJSONExporter(), nil
	case FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// =============================================================================
// FILES
// =============================================================================

// Filename returns the conventional export file name for t, e.g.
// ollama_conversation_2025-03-14_092653.md.
func Filename(exporter Exporter, t time.Time) string {
	return "ollama_conversation_" + t.Format("2006-01-02_150405") + exporter.FileExtension()
}

// WriteFile writes data into dir under Filename and returns the path.
// The write is atomic; dir is created if needed.
func WriteFile(dir string, exporter Exporter, data []byte, t time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, Filename(exporter, t))
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// formatTimestamp renders times in the narrative format.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
