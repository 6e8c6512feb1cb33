// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations: generation
// parameters, exchanges, and the bounded conversation log.
//
// # Key Types
//
//   - Parameters: Sampling settings snapshotted into every exchange
//   - Exchange: One prompt/response pair with its parameters and timestamp
//   - ConversationLog: Bounded FIFO of exchanges owned by a single session
//
// # Usage
//
//	log := model.NewConversationLog(20)
//	log.Append(model.Exchange{Prompt: "hi", Response: "hello", Timestamp: time.Now()})
//	prompt := model.BuildPrompt(system, log.Exchanges(), "next question", true)
package model
