// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor runs one generation call against Ollama with bounded
// retries. Execute never returns an error: every outcome, including
// exhausted retries and panics in the transport, comes back as a Result.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/ollama"
	"github.com/shrimpy8/ollama-chat-interface/internal/retry"
)

// Transport performs a single generation request. *ollama.Client
// implements it.
type Transport interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request is an immutable description of one generation call.
type Request struct {
	Model      string
	Prompt     string // full text, system prompt and history included
	Parameters model.Parameters
	// Timeout bounds each attempt separately. Zero means no per-attempt limit.
	Timeout time.Duration
	// ContextWindow is forwarded as num_ctx when positive
	ContextWindow int
}

func (r Request) wire() ollama.GenerateRequest {
	return ollama.GenerateRequest{
		Model:  r.Model,
		Prompt: r.Prompt,
		Stream: false,
		Options: &ollama.Options{
			Temperature: r.Parameters.Temperature,
			TopP:        r.Parameters.TopP,
			TopK:        r.Parameters.TopK,
			NumPredict:  r.Parameters.MaxTokens,
			NumCtx:      r.ContextWindow,
		},
	}
}

// Result is the outcome of Execute. Exactly one of Response (non-empty)
// and Failure is set.
type Result struct {
	Response string
	Failure  *Failure
	Attempts int
	Elapsed  time.Duration
	// Details holds the raw endpoint response on success
	Details *ollama.GenerateResponse
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor applies a retry policy around a Transport. It holds no mutable
// state, so concurrent Execute calls are independent.
type Executor struct {
	transport Transport
	policy    retry.Policy
	clock     retry.Clock
	log       zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock, for tests.
func WithClock(c retry.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// New creates an Executor. An invalid policy falls back to the default.
func New(transport Transport, policy retry.Policy, opts ...Option) *Executor {
	e := &Executor{
		transport: transport,
		policy:    policy,
		clock:     retry.RealClock{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := policy.Validate(); err != nil {
		e.log.Warn().Err(err).Msg("invalid retry policy, using defaults")
		e.policy = retry.DefaultPolicy()
	}
	e.log = e.log.With().Str("component", "executor").Logger()
	return e
}

// Policy returns the retry policy in use.
func (e *Executor) Policy() retry.Policy {
	return e.policy
}

// Execute performs req, retrying transient failures per the policy.
//
// Connection, timeout and empty-response failures are retried after
// Policy.Delay(n). Client and unexpected failures end the call at once,
// as does cancellation of ctx mid-request.
// If ctx ends, no further attempt is started and the last failure is
// returned.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := e.clock.Now()
	log := e.log.With().Str("model", req.Model).Logger()

	var last *Failure
	attempts := 0

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		attempts = attempt

		resp, failure := e.attempt(ctx, req)
		if failure == nil {
			log.Debug().
				Int("attempt", attempt).
				Int("eval_count", resp.EvalCount).
				Msg("generation succeeded")
			return Result{
				Response: resp.Response,
				Attempts: attempts,
				Elapsed:  e.clock.Now().Sub(start),
				Details:  resp,
			}
		}
		last = failure

		if !failure.Kind.Retryable() {
			switch {
			case failure.Cancelled():
				log.Debug().Int("attempt", attempt).Msg("generation cancelled")
			case failure.Kind == KindUnexpected:
				log.Error().Err(failure.Err).Int("attempt", attempt).Msg("generation failed unexpectedly")
			default:
				log.Warn().Err(failure.Err).Str("kind", failure.Kind.String()).Msg("generation rejected, not retrying")
			}
			break
		}
		if attempt == e.policy.MaxAttempts {
			log.Error().
				Err(failure.Err).
				Str("kind", failure.Kind.String()).
				Int("attempts", attempt).
				Msg("generation failed after all retries")
			break
		}
		if ctx.Err() != nil {
			break
		}

		delay := e.policy.Delay(attempt)
		log.Warn().
			Err(failure.Err).
			Str("kind", failure.Kind.String()).
			Int("attempt", attempt).
			Int("max_attempts", e.policy.MaxAttempts).
			Dur("backoff", delay).
			Msg("generation attempt failed, retrying")

		if err := e.clock.Sleep(ctx, delay); err != nil {
			log.Debug().Err(err).Msg("retry wait cancelled")
			break
		}
	}

	return Result{
		Failure:  last,
		Attempts: attempts,
		Elapsed:  e.clock.Now().Sub(start),
	}
}

// attempt performs a single transport call and converts every outcome,
// panics included, into either a usable response or a Failure.
func (e *Executor) attempt(ctx context.Context, req Request) (resp *ollama.GenerateResponse, failure *Failure) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			failure = &Failure{
				Kind:    KindUnexpected,
				Message: MsgUnexpected,
				Err:     fmt.Errorf("transport panic: %v", r),
			}
		}
	}()

	attemptCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := e.transport.Generate(attemptCtx, req.wire())
	if err != nil {
		return nil, classify(err, req)
	}
	if resp == nil || strings.TrimSpace(resp.Response) == "" {
		return nil, &Failure{Kind: KindEmptyResponse, Message: MsgEmptyResponse, Err: errEmptyResponse}
	}
	return resp, nil
}
