// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Only the non-streaming generate call is used for chat; the client also
// exposes a health check and the model list for status reporting.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - GenerateRequest / GenerateResponse: /api/generate wire format
//   - ClientError: Typed failure carrying an ErrorType and HTTP status
//
// # Usage
//
//	client := ollama.NewClient(ollama.ClientConfig{BaseURL: "http://localhost:11434"})
//	resp, err := client.Generate(ctx, ollama.GenerateRequest{
//	    Model:  "deepseek-r1:latest",
//	    Prompt: "System: ...\n\nCurrent question: Hello",
//	})
//	var cerr *ollama.ClientError
//	if errors.As(err, &cerr) && cerr.Type == ollama.ErrTypeModelNotFound {
//	    // tell the user to pull the model
//	}
package ollama
