// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/ollama"
	"github.com/shrimpy8/ollama-chat-interface/internal/retry"
)

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

type step struct {
	resp  *ollama.GenerateResponse
	err   error
	panic any
}

// scriptedTransport replays steps in order, repeating the last one.
type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	calls int
	reqs  []ollama.GenerateRequest
}

func (s *scriptedTransport) Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	s.reqs = append(s.reqs, req)
	st := s.steps[i]
	s.mu.Unlock()

	if st.panic != nil {
		panic(st.panic)
	}
	return st.resp, st.err
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok(text string) step {
	return step{resp: &ollama.GenerateResponse{Response: text, Done: true}}
}

func fail(t ollama.ErrorType) step {
	return step{err: &ollama.ClientError{Type: t, Message: t.String()}}
}

func testRequest() Request {
	return Request{
		Model:      "deepseek-r1:latest",
		Prompt:     "System: be helpful\n\nCurrent question: hi",
		Parameters: model.DefaultParameters(),
		Timeout:    120 * time.Second,
	}
}

func newTestExecutor(tr Transport) (*Executor, *retry.FakeClock) {
	clock := retry.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(tr, retry.DefaultPolicy(), WithClock(clock)), clock
}

// =============================================================================
// RETRY BEHAVIOUR
// =============================================================================

func TestExecute_SucceedsAfterTwoFailures(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		fail(ollama.ErrTypeConnection),
		fail(ollama.ErrTypeTimeout),
		ok("Hello!"),
	}}
	exec, clock := newTestExecutor(tr)

	res := exec.Execute(context.Background(), testRequest())

	require.True(t, res.OK(), "failure: %v", res.Failure)
	assert.Equal(t, "Hello!", res.Response)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, tr.Calls())

	p := retry.DefaultPolicy()
	total := clock.TotalSlept()
	assert.GreaterOrEqual(t, total, p.MinWait+time.Duration(float64(p.MinWait)*p.Multiplier))
	assert.LessOrEqual(t, total, 2*p.MaxWait)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clock.Sleeps())
	assert.Equal(t, 6*time.Second, res.Elapsed)
}

func TestExecute_ModelNotFoundIsNotRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []step{fail(ollama.ErrTypeModelNotFound)}}
	exec, clock := newTestExecutor(tr)

	res := exec.Execute(context.Background(), testRequest())

	require.False(t, res.OK())
	assert.Equal(t, KindClient, res.Failure.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, tr.Calls())
	assert.Empty(t, clock.Sleeps())
	assert.Contains(t, res.Failure.Message, "deepseek-r1:latest")
}

func TestExecute_AlwaysTimeout(t *testing.T) {
	tr := &scriptedTransport{steps: []step{fail(ollama.ErrTypeTimeout)}}
	exec, clock := newTestExecutor(tr)

	res := exec.Execute(context.Background(), testRequest())

	require.False(t, res.OK())
	assert.Equal(t, KindTimeout, res.Failure.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, tr.Calls())
	assert.Len(t, clock.Sleeps(), 2, "no wait after the final attempt")
	assert.Equal(t, "Error: Request timed out after 120 seconds. Try a shorter prompt.", res.Failure.Message)
}

func TestExecute_FailureKinds(t *testing.T) {
	tests := []struct {
		name         string
		step         step
		wantKind     FailureKind
		wantAttempts int
		wantMessage  string
	}{
		{"connection", fail(ollama.ErrTypeConnection), KindConnection, 3, MsgConnection},
		{"empty body", ok("   "), KindEmptyResponse, 3, MsgEmptyResponse},
		{"nil response", step{}, KindEmptyResponse, 3, MsgEmptyResponse},
		{"malformed body", fail(ollama.ErrTypeInvalidResponse), KindEmptyResponse, 3, MsgInvalidResponse},
		{"bad request", fail(ollama.ErrTypeBadRequest), KindClient, 1, ""},
		{"server error", fail(ollama.ErrTypeServer), KindUnexpected, 1, MsgUnexpected},
		{"plain error", step{err: errors.New("disk on fire")}, KindUnexpected, 1, MsgUnexpected},
		{"plain deadline", step{err: context.DeadlineExceeded}, KindTimeout, 3, ""},
		{"panic", step{panic: "boom"}, KindUnexpected, 1, MsgUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{steps: []step{tt.step}}
			exec, _ := newTestExecutor(tr)

			res := exec.Execute(context.Background(), testRequest())

			require.NotNil(t, res.Failure)
			assert.Equal(t, tt.wantKind, res.Failure.Kind)
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Failure.Message)
			}
			assert.Empty(t, res.Response)
		})
	}
}

func TestExecute_UnexpectedMessageHidesDetail(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: errors.New("secret internal path /var/lib/x")}}}
	exec, _ := newTestExecutor(tr)

	res := exec.Execute(context.Background(), testRequest())
	assert.NotContains(t, res.Failure.Message, "/var/lib/x")
	assert.ErrorContains(t, res.Failure, "/var/lib/x")
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	tr := &scriptedTransport{steps: []step{fail(ollama.ErrTypeConnection)}}
	exec := New(tr, retry.Policy{MaxAttempts: 5, MinWait: time.Hour, MaxWait: time.Hour, Multiplier: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan Result, 1)
	go func() { done <- exec.Execute(ctx, testRequest()) }()

	select {
	case res := <-done:
		assert.Equal(t, KindConnection, res.Failure.Kind)
		assert.Equal(t, 1, res.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestExecute_CancelledMidRequest(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client error", &ollama.ClientError{Type: ollama.ErrTypeUnknown, Message: "request cancelled", Cause: context.Canceled}},
		{"plain error", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tr := &scriptedTransport{steps: []step{{err: tt.err}}}
			exec := New(tr, retry.DefaultPolicy(), WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			res := exec.Execute(context.Background(), testRequest())
			require.NotNil(t, res.Failure)
			assert.True(t, res.Failure.Cancelled())
			assert.Equal(t, MsgCancelled, res.Failure.Message)
			assert.Equal(t, 1, res.Attempts)
			assert.Equal(t, 1, tr.Calls())
			assert.Contains(t, buf.String(), "generation cancelled")
			assert.NotContains(t, buf.String(), `"level":"error"`)
		})
	}
}

func TestExecute_InvalidPolicyFallsBack(t *testing.T) {
	exec := New(&scriptedTransport{steps: []step{ok("x")}}, retry.Policy{})
	assert.Equal(t, retry.DefaultPolicy(), exec.Policy())
}

func TestExecute_WireRequest(t *testing.T) {
	tr := &scriptedTransport{steps: []step{ok("fine")}}
	exec, _ := newTestExecutor(tr)

	req := testRequest()
	req.Parameters = model.Parameters{Temperature: 0.1, TopP: 0.5, TopK: 7, MaxTokens: 512}
	req.ContextWindow = 4096
	exec.Execute(context.Background(), req)

	require.Len(t, tr.reqs, 1)
	got := tr.reqs[0]
	assert.False(t, got.Stream)
	assert.Equal(t, req.Prompt, got.Prompt)
	assert.Equal(t, &ollama.Options{Temperature: 0.1, TopP: 0.5, TopK: 7, NumPredict: 512, NumCtx: 4096}, got.Options)
}

func TestExecute_LogsRetries(t *testing.T) {
	var buf bytes.Buffer
	tr := &scriptedTransport{steps: []step{fail(ollama.ErrTypeConnection), ok("hi")}}
	clock := retry.NewFakeClock(time.Now())
	exec := New(tr, retry.DefaultPolicy(), WithClock(clock), WithLogger(zerolog.New(&buf)))

	exec.Execute(context.Background(), testRequest())

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"kind":"connection"`)
	assert.Contains(t, out, "retrying")
}

func TestExecute_ConcurrentCallsIndependent(t *testing.T) {
	exec, _ := newTestExecutor(&scriptedTransport{steps: []step{ok("same")}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := exec.Execute(context.Background(), testRequest())
			assert.True(t, res.OK())
			assert.Equal(t, 1, res.Attempts)
		}()
	}
	wg.Wait()
}

// =============================================================================
// END TO END WITH THE HTTP CLIENT
// =============================================================================

func TestExecute_WithOllamaClient(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Write([]byte(`{"response":""}`))
		default:
			w.Write([]byte(`{"response":"third time lucky","done":true}`))
		}
	}))
	defer srv.Close()

	client := ollama.NewClient(ollama.ClientConfig{BaseURL: srv.URL})
	exec, clock := newTestExecutor(client)

	res := exec.Execute(context.Background(), testRequest())
	require.True(t, res.OK(), "failure: %v", res.Failure)
	assert.Equal(t, "third time lucky", res.Response)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 6*time.Second, clock.TotalSlept())
}

func TestExecute_PerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := ollama.NewClient(ollama.ClientConfig{BaseURL: srv.URL})
	exec, _ := newTestExecutor(client)

	req := testRequest()
	req.Timeout = 30 * time.Millisecond
	res := exec.Execute(context.Background(), req)

	require.False(t, res.OK())
	assert.Equal(t, KindTimeout, res.Failure.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, strings.HasPrefix(res.Failure.Message, "Error: Request timed out after 0 seconds"))
}
