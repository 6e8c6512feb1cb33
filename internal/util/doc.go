// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the client: crash-safe
// file writes, width-aware truncation for terminal output and loopback
// address checks.
package util
