// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/shrimpy8/ollama-chat-interface/internal/config"
	"github.com/shrimpy8/ollama-chat-interface/internal/executor"
	"github.com/shrimpy8/ollama-chat-interface/internal/export"
	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/retry"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyPrompt is returned when the message is blank after trimming.
	ErrEmptyPrompt = errors.New("Error: Message cannot be empty.")

	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("a request is already in progress for this session")
)

// =============================================================================
// SESSION
// =============================================================================

// Session is one chat conversation: its log, its configuration snapshot
// and the executor that talks to Ollama. At most one Submit runs at a time;
// the other methods are safe to call concurrently with it.
type Session struct {
	id   string
	cfg  *config.Config
	exec *executor.Executor

	clock retry.Clock
	log   zerolog.Logger

	// busy guards the single in-flight request
	busy atomic.Bool

	mu           sync.Mutex
	history      *model.ConversationLog
	startTime    time.Time
	lastActivity time.Time
	requests     int
	failures     int
	evicted      int
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for timestamps and retry waits.
func WithClock(c retry.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// New creates a session bound to a copy of cfg.
func New(cfg *config.Config, transport executor.Transport, opts ...Option) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg.Clone(),
		clock: retry.RealClock{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", s.id).Logger()
	s.exec = executor.New(transport, s.cfg.RetryPolicy(),
		executor.WithClock(s.clock),
		executor.WithLogger(s.log),
	)
	s.history = model.NewConversationLog(s.cfg.UI.History.MaxMessages)
	s.startTime = s.clock.Now()
	s.lastActivity = s.startTime
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Config returns the configuration snapshot the session was created with.
// Callers must not modify it.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// =============================================================================
// SUBMIT
// =============================================================================

// Reply is the outcome of Submit. When Failure is set, Text holds its
// user-facing message and nothing was recorded.
type Reply struct {
	Text     string
	Exchange model.Exchange
	Failure  *executor.Failure
	Attempts int
	Elapsed  time.Duration
	// Evicted counts exchanges dropped from the front of the log
	Evicted int
}

// OK reports whether the model produced a response.
func (r Reply) OK() bool {
	return r.Failure == nil
}

// Submit sends message with params and records the exchange on success.
//
// Input problems (blank message, out-of-range parameters, a request already
// running) come back as errors. Generation problems come back inside the
// Reply with a nil error.
func (s *Session) Submit(ctx context.Context, message string, params model.Parameters) (Reply, error) {
	message = norm.NFC.String(strings.TrimSpace(message))
	if message == "" {
		return Reply{}, ErrEmptyPrompt
	}
	if err := params.Validate(); err != nil {
		return Reply{}, err
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Reply{}, ErrBusy
	}
	defer s.busy.Store(false)

	memory := s.cfg.Conversation.MemoryEnabled

	s.mu.Lock()
	var prior []model.Exchange
	if memory {
		prior = s.history.Exchanges()
	}
	s.lastActivity = s.clock.Now()
	s.requests++
	s.mu.Unlock()

	prompt := model.BuildPrompt(s.cfg.Conversation.SystemPrompt, prior, message, memory)

	s.log.Debug().
		Int("history", len(prior)).
		Int("prompt_chars", len(prompt)).
		Str("params", params.String()).
		Msg("submitting message")

	res := s.exec.Execute(ctx, executor.Request{
		Model:         s.cfg.Ollama.ModelName,
		Prompt:        prompt,
		Parameters:    params,
		Timeout:       s.cfg.RequestTimeout(),
		ContextWindow: s.cfg.Conversation.ContextWindow,
	})

	reply := Reply{Attempts: res.Attempts, Elapsed: res.Elapsed}
	if !res.OK() {
		s.mu.Lock()
		s.failures++
		s.mu.Unlock()
		reply.Failure = res.Failure
		reply.Text = res.Failure.Message
		return reply, nil
	}

	ex := model.Exchange{
		Prompt:     message,
		Response:   res.Response,
		Timestamp:  s.clock.Now(),
		Parameters: params,
	}

	s.mu.Lock()
	if memory {
		reply.Evicted = s.history.Append(ex)
		s.evicted += reply.Evicted
		// Append may have clamped the timestamp
		ex = s.history.Last(1)[0]
	}
	s.lastActivity = ex.Timestamp
	s.mu.Unlock()

	if reply.Evicted > 0 {
		s.log.Debug().Int("evicted", reply.Evicted).Msg("history limit reached, dropped oldest exchanges")
	}

	reply.Text = res.Response
	reply.Exchange = ex
	return reply, nil
}

// Busy reports whether a Submit is in progress.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// =============================================================================
// HISTORY
// =============================================================================

// Clear empties the conversation log.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
	s.lastActivity = s.clock.Now()
	s.log.Info().Msg("conversation cleared")
}

// History returns a copy of the recorded exchanges, oldest first.
func (s *Session) History() []model.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Exchanges()
}

// Snapshot captures the conversation for export.
func (s *Session) Snapshot() export.Snapshot {
	s.mu.Lock()
	exchanges := s.history.Exchanges()
	s.mu.Unlock()

	return export.Snapshot{
		Model:        s.cfg.Ollama.ModelName,
		SystemPrompt: s.cfg.Conversation.SystemPrompt,
		Exchanges:    exchanges,
		ExportedAt:   s.clock.Now(),
	}
}

// =============================================================================
// EXPORT
// =============================================================================

// Exported is a rendered export, not yet written anywhere.
type Exported struct {
	Format    export.Format
	Filename  string
	MimeType  string
	Data      []byte
	Exchanges int
	CreatedAt time.Time
}

// Export renders the current conversation in format.
func (s *Session) Export(format export.Format) (*Exported, error) {
	exporter, err := export.ForFormat(format, export.DefaultOptions())
	if err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	data, err := exporter.Export(snap)
	if err != nil {
		s.log.Error().Err(err).Str("format", string(format)).Msg("export failed")
		return nil, fmt.Errorf("export %s: %w", format, err)
	}
	return &Exported{
		Format:    format,
		Filename:  export.Filename(exporter, snap.ExportedAt),
		MimeType:  exporter.MimeType(),
		Data:      data,
		Exchanges: len(snap.Exchanges),
		CreatedAt: snap.ExportedAt,
	}, nil
}

// Save exports the conversation into dir and returns the file path.
func (s *Session) Save(dir string, format export.Format) (string, *Exported, error) {
	out, err := s.Export(format)
	if err != nil {
		return "", nil, err
	}
	exporter, _ := export.ForFormat(format, export.DefaultOptions())
	path, err := export.WriteFile(dir, exporter, out.Data, out.CreatedAt)
	if err != nil {
		return "", nil, err
	}
	s.log.Info().Str("path", path).Int("exchanges", out.Exchanges).Msg("conversation exported")
	return path, out, nil
}

// =============================================================================
// STATS
// =============================================================================

// Stats summarizes a session.
type Stats struct {
	ID            string        `json:"id"`
	Model         string        `json:"model"`
	Exchanges     int           `json:"exchanges"`
	MaxMessages   int           `json:"max_messages"`
	MemoryEnabled bool          `json:"memory_enabled"`
	Requests      int           `json:"requests"`
	Failures      int           `json:"failures"`
	Evicted       int           `json:"evicted"`
	StartedAt     time.Time     `json:"started_at"`
	LastActivity  time.Time     `json:"last_activity"`
	Idle          time.Duration `json:"idle_ns"`
}

// Stats returns counters for the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:            s.id,
		Model:         s.cfg.Ollama.ModelName,
		Exchanges:     s.history.Len(),
		MaxMessages:   s.history.Max(),
		MemoryEnabled: s.cfg.Conversation.MemoryEnabled,
		Requests:      s.requests,
		Failures:      s.failures,
		Evicted:       s.evicted,
		StartedAt:     s.startTime,
		LastActivity:  s.lastActivity,
		Idle:          s.clock.Now().Sub(s.lastActivity),
	}
}

// IdleTime returns how long since the last submit or clear.
func (s *Session) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Sub(s.lastActivity)
}
