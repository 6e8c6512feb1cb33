// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpy8/ollama-chat-interface/internal/model"
)

var exportedAt = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func sampleSnapshot() Snapshot {
	log := model.NewConversationLog(10)
	log.Append(model.Exchange{
		Prompt:     "What is a goroutine?",
		Response:   "A lightweight thread.\n\nManaged by the Go runtime.",
		Timestamp:  time.Date(2025, 3, 14, 9, 20, 0, 123456789, time.UTC),
		Parameters: model.DefaultParameters(),
	})
	log.Append(model.Exchange{
		Prompt:     "And a channel?",
		Response:   "A typed conduit.",
		Timestamp:  time.Date(2025, 3, 14, 9, 21, 30, 0, time.FixedZone("PST", -8*3600)),
		Parameters: model.Parameters{Temperature: 0, TopP: 1, TopK: 1, MaxTokens: 256},
	})
	return Snapshot{
		Model:        "deepseek-r1:latest",
		SystemPrompt: "You are a helpful AI assistant powered by DeepSeek-R1.",
		Exchanges:    log.Exchanges(),
		ExportedAt:   exportedAt,
	}
}

// =============================================================================
// FORMAT TESTS
// =============================================================================

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"markdown", FormatMarkdown, false},
		{" md ", FormatMarkdown, false},
		{"html", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.err {
			assert.True(t, errors.Is(err, ErrUnknownFormat), "ParseFormat(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestForFormat(t *testing.T) {
	j, err := ForFormat(FormatJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, ".json", j.FileExtension())
	assert.Equal(t, "application/json", j.MimeType())

	m, err := ForFormat(FormatMarkdown, nil)
	require.NoError(t, err)
	assert.Equal(t, ".md", m.FileExtension())
	assert.Equal(t, "text/markdown", m.MimeType())

	_, err = ForFormat("pdf", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

// =============================================================================
// JSON TESTS
// =============================================================================

func TestJSONExporter_RoundTrip(t *testing.T) {
	snap := sampleSnapshot()

	data, err := NewJSONExporter().Export(snap)
	require.NoError(t, err)

	doc, err := ParseJSON(data)
	require.NoError(t, err)

	assert.Equal(t, ExportVersion, doc.Metadata.ExportVersion)
	assert.Equal(t, snap.Model, doc.Metadata.Model)
	assert.Equal(t, snap.SystemPrompt, doc.Metadata.SystemPrompt)
	assert.Equal(t, 2, doc.Metadata.TotalMessages)
	assert.True(t, snap.ExportedAt.Equal(doc.Metadata.Timestamp))

	require.Len(t, doc.Conversation, len(snap.Exchanges))
	for i, want := range snap.Exchanges {
		got := doc.Conversation[i]
		assert.Equal(t, want.Prompt, got.Prompt)
		assert.Equal(t, want.Response, got.Response)
		assert.Equal(t, want.Parameters, got.Parameters)
		assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %d: %v != %v", i, want.Timestamp, got.Timestamp)
	}
}

func TestJSONExporter_WireKeys(t *testing.T) {
	data, err := NewJSONExporter().Export(sampleSnapshot())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	meta := raw["export_metadata"].(map[string]any)
	for _, k := range []string{"timestamp", "model", "system_prompt", "total_messages", "export_version"} {
		assert.Contains(t, meta, k)
	}

	first := raw["conversation"].([]any)[0].(map[string]any)
	for _, k := range []string{"user", "assistant", "timestamp", "parameters"} {
		assert.Contains(t, first, k)
	}
	params := first["parameters"].(map[string]any)
	for _, k := range []string{"temperature", "top_p", "top_k", "max_tokens"} {
		assert.Contains(t, params, k)
	}

	assert.True(t, strings.HasPrefix(string(data), "{\n  \""), "two-space indent")
}

func TestJSONExporter_Empty(t *testing.T) {
	data, err := NewJSONExporter().Export(Snapshot{Model: "m", ExportedAt: exportedAt})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"conversation": []`)

	doc, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Empty(t, doc.Conversation)
	assert.NotNil(t, doc.Conversation)
	assert.Equal(t, 0, doc.Metadata.TotalMessages)
}

func TestParseJSON_Invalid(t *testing.T) {
	_, err := ParseJSON([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`{"conversation": []}`))
	assert.Error(t, err, "missing version")
}

// =============================================================================
// MARKDOWN TESTS
// =============================================================================

func TestMarkdownExporter_Structure(t *testing.T) {
	data, err := NewMarkdownExporter(nil).Export(sampleSnapshot())
	require.NoError(t, err)
	md := string(data)

	ordered := []string{
		"# Ollama Chat Conversation Export",
		"## Metadata",
		"- **Export Date**: 2025-03-14 09:26:53",
		"- **Model**: deepseek-r1:latest",
		"- **Total Messages**: 2",
		"## System Prompt",
		"> You are a helpful AI assistant powered by DeepSeek-R1.",
		"---",
		"## Conversation",
		"### Exchange 1",
		"*2025-03-14 09:20:00*",
		"**User:**\n> What is a goroutine?",
		"**Assistant:**\n> A lightweight thread.\n>\n> Managed by the Go runtime.",
		"*Parameters: temp=0.7, top_p=0.9, top_k=40, max_tokens=2048*",
		"### Exchange 2",
		"*Parameters: temp=0, top_p=1, top_k=1, max_tokens=256*",
	}
	pos := 0
	for _, want := range ordered {
		idx := strings.Index(md[pos:], want)
		require.GreaterOrEqual(t, idx, 0, "missing (or out of order) %q in:\n%s", want, md)
		pos += idx + len(want)
	}
}

func TestMarkdownExporter_Empty(t *testing.T) {
	data, err := NewMarkdownExporter(nil).Export(Snapshot{ExportedAt: exportedAt})
	require.NoError(t, err)
	md := string(data)

	assert.Contains(t, md, "- **Total Messages**: 0")
	assert.Contains(t, md, "## Conversation")
	assert.NotContains(t, md, "### Exchange")
}

func TestMarkdownExporter_NoTimestamps(t *testing.T) {
	data, err := NewMarkdownExporter(&Options{IncludeTimestamps: false}).Export(sampleSnapshot())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "*2025-03-14 09:20:00*")
}

func TestBlockquote(t *testing.T) {
	assert.Equal(t, ">", blockquote(""))
	assert.Equal(t, "> one", blockquote("one\n"))
	assert.Equal(t, "> a\n>\n> b", blockquote("a\r\n\r\nb"))
}

// =============================================================================
// FILE TESTS
// =============================================================================

func TestFilename(t *testing.T) {
	assert.Equal(t, "ollama_conversation_2025-03-14_092653.json", Filename(NewJSONExporter(), exportedAt))
	assert.Equal(t, "ollama_conversation_2025-03-14_092653.md", Filename(NewMarkdownExporter(nil), exportedAt))
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	exp := NewJSONExporter()
	data, err := exp.Export(sampleSnapshot())
	require.NoError(t, err)

	path, err := WriteFile(dir, exp, data, exportedAt)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ollama_conversation_2025-03-14_092653.json"), path)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}
