// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session ties a conversation log to an executor.
//
// A Session owns one bounded conversation. Submit normalizes the user's
// message, builds the prompt from the system prompt and the recorded
// history, runs it through the retrying executor and records the exchange
// when conversation memory is enabled.
//
// # Usage
//
//	client := ollama.NewClient(ollama.ClientConfig{BaseURL: cfg.Ollama.BaseURL})
//	sess := session.New(cfg, client, session.WithLogger(log))
//
//	reply, err := sess.Submit(ctx, "What is a goroutine?", cfg.DefaultParameters())
//	if err != nil {
//	    // blank message, bad parameters or ErrBusy
//	}
//	fmt.Println(reply.Text) // the answer, or a user-facing error message
//
//	path, _, err := sess.Save(cfg.Export.OutputDir, export.FormatMarkdown)
package session
