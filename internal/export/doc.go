// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export provides conversation export functionality.
//
// # Key Types
//
//   - Format: Export format enumeration (JSON, Markdown)
//   - Snapshot: Point-in-time copy of a conversation log plus its context
//   - Exporter: Main export interface
//   - Document: Parsed form of a JSON export
//
// # Supported Formats
//
//   - JSON: Machine-readable with full metadata; ParseJSON reads it back
//   - Markdown: Human-readable narrative, presentation only
//
// # Usage
//
//	snap := export.Snapshot{Model: "deepseek-r1:latest", Exchanges: log.Exchanges()}
//	exp, _ := export.ForFormat(export.FormatMarkdown, nil)
//	data, err := exp.Export(snap)
//	path, err := export.WriteFile(".", exp, data, time.Now())
package export
