// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// DefaultMaxMessages bounds a log created with a non-positive limit.
const DefaultMaxMessages = 20

// =============================================================================
// EXCHANGE
// =============================================================================

// Exchange is one user/assistant turn. The JSON keys match the export format.
type Exchange struct {
	Prompt     string     `json:"user"`
	Response   string     `json:"assistant"`
	Timestamp  time.Time  `json:"timestamp"`
	Parameters Parameters `json:"parameters"`
}

// =============================================================================
// CONVERSATION LOG
// =============================================================================

// ConversationLog is an ordered, bounded record of exchanges for one session.
// When an append pushes it past its bound, the oldest exchanges are evicted.
//
// A log has a single owner and is not safe for concurrent use.
type ConversationLog struct {
	exchanges []Exchange
	max       int
}

// NewConversationLog creates an empty log holding at most max exchanges.
func NewConversationLog(max int) *ConversationLog {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &ConversationLog{
		exchanges: make([]Exchange, 0, max),
		max:       max,
	}
}

// Append adds ex at the tail and trims from the front until the bound
// holds again. It returns how many exchanges were evicted.
//
// Timestamps stay non-decreasing: one earlier than the current tail is
// raised to the tail's timestamp. The monotonic clock reading is dropped
// so stored times compare equal to their serialized form.
func (l *ConversationLog) Append(ex Exchange) int {
	ex.Timestamp = ex.Timestamp.Round(0)
	if n := len(l.exchanges); n > 0 {
		if last := l.exchanges[n-1].Timestamp; ex.Timestamp.Before(last) {
			ex.Timestamp = last
		}
	}

	l.exchanges = append(l.exchanges, ex)

	evicted := len(l.exchanges) - l.max
	if evicted <= 0 {
		return 0
	}
	// Shift down in place rather than reslicing so the backing array
	// does not grow without bound over a long session.
	n := copy(l.exchanges, l.exchanges[evicted:])
	clear(l.exchanges[n:])
	l.exchanges = l.exchanges[:n]
	return evicted
}

// Clear removes every exchange. Calling it on an empty log is a no-op.
func (l *ConversationLog) Clear() {
	clear(l.exchanges)
	l.exchanges = l.exchanges[:0]
}

// Len returns the number of stored exchanges.
func (l *ConversationLog) Len() int {
	return len(l.exchanges)
}

// Max returns the bound.
func (l *ConversationLog) Max() int {
	return l.max
}

// Exchanges returns a copy of the stored exchanges, oldest first.
func (l *ConversationLog) Exchanges() []Exchange {
	out := make([]Exchange, len(l.exchanges))
	copy(out, l.exchanges)
	return out
}

// Last returns a copy of the most recent n exchanges, oldest first.
func (l *ConversationLog) Last(n int) []Exchange {
	if n <= 0 {
		return []Exchange{}
	}
	start := len(l.exchanges) - n
	if start < 0 {
		start = 0
	}
	out := make([]Exchange, len(l.exchanges)-start)
	copy(out, l.exchanges[start:])
	return out
}
