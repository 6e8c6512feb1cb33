// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to a narrative Markdown document.
// The output is for reading only and is not parsed back.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a snapshot to Markdown. An empty snapshot produces the
// header and an empty conversation section.
func (e *MarkdownExporter) Export(snap Snapshot) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString("# Ollama Chat Conversation Export\n\n")

	sb.WriteString("## Metadata\n\n")
	fmt.Fprintf(&sb, "- **Export Date**: %s\n", formatTimestamp(snap.ExportedAt))
	fmt.Fprintf(&sb, "- **Model**: %s\n", snap.Model)
	fmt.Fprintf(&sb, "- **Total Messages**: %d\n\n", len(snap.Exchanges))

	sb.WriteString("## System Prompt\n\n")
	sb.WriteString(blockquote(snap.SystemPrompt))
	sb.WriteString("\n\n---\n\n")

	sb.WriteString("## Conversation\n\n")

	if len(snap.Exchanges) == 0 {
		sb.WriteString("_No messages yet._\n")
		return []byte(sb.String()), nil
	}

	for i, ex := range snap.Exchanges {
		fmt.Fprintf(&sb, "### Exchange %d\n\n", i+1)
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "*%s*\n\n", formatTimestamp(ex.Timestamp))
		}

		sb.WriteString("**User:**\n")
		sb.WriteString(blockquote(ex.Prompt))
		sb.WriteString("\n\n")

		sb.WriteString("**Assistant:**\n")
		sb.WriteString(blockquote(ex.Response))
		sb.WriteString("\n\n")

		fmt.Fprintf(&sb, "*Parameters: %s*\n\n", ex.Parameters)
		sb.WriteString("---\n\n")
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// blockquote prefixes every line of s with "> " so multi-line messages
// stay inside one quote. Blank lines become a bare ">".
func blockquote(s string) string {
	s = strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if s == "" {
		return ">"
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n")
}
