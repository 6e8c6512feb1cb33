// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the chat client.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration record, immutable once loaded
//   - OllamaConfig: Endpoint, model and default generation parameters
//   - RequestConfig: Per-attempt timeout and retry policy
//   - Watcher: fsnotify-based reload that delivers fresh Config values
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OLLAMA_CHAT_*)
//   - The file passed with --config
//   - ~/.ollama-chat/config.toml
//   - ~/.ollama-chat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.RetryPolicy()
package config
