// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// BuildPrompt assembles the full text sent to the model: the system prompt
// (omitted when empty), then (when withHistory is set and history is
// non-empty) the prior turns, then the current question.
//
//	System: <system>
//
//	Previous conversation:
//	User: ...
//	Assistant: ...
//
//	Current question: <message>
func BuildPrompt(system string, history []Exchange, message string, withHistory bool) string {
	var parts []string
	if system != "" {
		parts = append(parts, "System: "+system)
	}

	if withHistory && len(history) > 0 {
		parts = append(parts, "\nPrevious conversation:")
		for _, ex := range history {
			parts = append(parts, "User: "+ex.Prompt, "Assistant: "+ex.Response)
		}
	}

	parts = append(parts, "\nCurrent question: "+message)
	return strings.Join(parts, "\n")
}
