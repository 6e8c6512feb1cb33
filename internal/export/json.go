// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shrimpy8/ollama-chat-interface/internal/model"
)

// ExportVersion is written into every JSON export.
const ExportVersion = "1.0"

// =============================================================================
// DOCUMENT
// =============================================================================

// Metadata is the export_metadata object of a JSON export.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	Model         string    `json:"model"`
	SystemPrompt  string    `json:"system_prompt"`
	TotalMessages int       `json:"total_messages"`
	ExportVersion string    `json:"export_version"`
}

// Document is the complete JSON export.
type Document struct {
	Metadata     Metadata         `json:"export_metadata"`
	Conversation []model.Exchange `json:"conversation"`
}

// ParseJSON reads a JSON export back into memory. A missing conversation
// array yields an empty, non-nil slice.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	if doc.Metadata.ExportVersion == "" {
		return nil, fmt.Errorf("parse export: missing export_version")
	}
	if doc.Conversation == nil {
		doc.Conversation = []model.Exchange{}
	}
	return &doc, nil
}

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations to the structured format. Its output
// round-trips through ParseJSON without loss.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export converts a snapshot to indented JSON.
func (e *JSONExporter) Export(snap Snapshot) ([]byte, error) {
	exchanges := snap.Exchanges
	if exchanges == nil {
		// Encode as [] rather than null
		exchanges = []model.Exchange{}
	}

	doc := Document{
		Metadata: Metadata{
			Timestamp:     snap.ExportedAt,
			Model:         snap.Model,
			SystemPrompt:  snap.SystemPrompt,
			TotalMessages: len(exchanges),
			ExportVersion: ExportVersion,
		},
		Conversation: exchanges,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
