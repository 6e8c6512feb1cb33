// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ollama-chat command line: an interactive
// chat REPL, one-shot questions, the local web backend, and helpers for
// configuration, status and archived exports.
//
// Every command writes to the App's Out and Err writers so it can be
// driven from tests. Colors and markdown rendering switch off when
// output is not a terminal, when NO_COLOR is set, or with --no-color.
package cli
