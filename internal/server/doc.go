// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the HTTP backend of the local chat UI.
//
// # Endpoints
//
//   - GET  /health            - Server and Ollama status
//   - GET  /api/config        - Title, model, default parameters and slider ranges
//   - POST /api/chat          - Send a message: {"message": "...", "parameters": {...}}
//   - POST /api/clear         - Clear the caller's conversation
//   - GET  /api/history       - The caller's conversation
//   - GET  /api/export        - Download the conversation (?format=json|markdown)
//   - GET  /api/exports       - List archived exports
//   - GET  /api/exports/{id}  - Download an archived export
//
// Each client gets its own conversation, keyed by the ollama_chat_session
// cookie. Requests pass through panic recovery, security headers, request
// logging and a per-IP rate limiter.
//
// # Usage
//
//	srv := server.New(cfg, server.WithLogger(log), server.WithArchive(archive))
//	go func() {
//		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//			log.Fatal().Err(err).Msg("server failed")
//		}
//	}()
//	...
//	srv.Shutdown(ctx)
package server
