// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpy8/ollama-chat-interface/internal/config"
	"github.com/shrimpy8/ollama-chat-interface/internal/executor"
	"github.com/shrimpy8/ollama-chat-interface/internal/export"
	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/ollama"
	"github.com/shrimpy8/ollama-chat-interface/internal/retry"
)

// echoTransport answers every prompt with a fixed reply and records prompts.
type echoTransport struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	gate    chan struct{}
}

func (e *echoTransport) Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error) {
	if e.gate != nil {
		<-e.gate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prompts = append(e.prompts, req.Prompt)
	if e.err != nil {
		return nil, e.err
	}
	return &ollama.GenerateResponse{Response: e.reply, Done: true}, nil
}

func (e *echoTransport) lastPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.prompts) == 0 {
		return ""
	}
	return e.prompts[len(e.prompts)-1]
}

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestSession(t *testing.T, tr executor.Transport, mutate func(*config.Config)) (*Session, *retry.FakeClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Conversation.SystemPrompt = "Be brief."
	if mutate != nil {
		mutate(cfg)
	}
	clock := retry.NewFakeClock(epoch)
	return New(cfg, tr, WithClock(clock), WithID("test-session")), clock
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_RecordsExchange(t *testing.T) {
	tr := &echoTransport{reply: "Hi there"}
	sess, _ := newTestSession(t, tr, nil)

	reply, err := sess.Submit(context.Background(), "  hello  ", model.DefaultParameters())
	require.NoError(t, err)
	require.True(t, reply.OK())

	assert.Equal(t, "Hi there", reply.Text)
	assert.Equal(t, 1, reply.Attempts)
	assert.Equal(t, "hello", reply.Exchange.Prompt)
	assert.Equal(t, epoch, reply.Exchange.Timestamp)

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, "Hi there", history[0].Response)
	assert.Equal(t, "System: Be brief.\n\nCurrent question: hello", tr.lastPrompt())
}

func TestSubmit_PromptCarriesHistory(t *testing.T) {
	tr := &echoTransport{reply: "ok"}
	sess, _ := newTestSession(t, tr, nil)
	ctx := context.Background()

	_, err := sess.Submit(ctx, "first", model.DefaultParameters())
	require.NoError(t, err)
	_, err = sess.Submit(ctx, "second", model.DefaultParameters())
	require.NoError(t, err)

	want := "System: Be brief.\n\nPrevious conversation:\nUser: first\nAssistant: ok\n\nCurrent question: second"
	assert.Equal(t, want, tr.lastPrompt())
}

func TestSubmit_MemoryDisabled(t *testing.T) {
	tr := &echoTransport{reply: "ok"}
	sess, _ := newTestSession(t, tr, func(c *config.Config) { c.Conversation.MemoryEnabled = false })
	ctx := context.Background()

	for _, msg := range []string{"one", "two"} {
		reply, err := sess.Submit(ctx, msg, model.DefaultParameters())
		require.NoError(t, err)
		assert.Equal(t, "ok", reply.Text)
	}

	assert.Empty(t, sess.History())
	assert.NotContains(t, tr.lastPrompt(), "Previous conversation")
}

func TestSubmit_EmptyMessage(t *testing.T) {
	tr := &echoTransport{reply: "never"}
	sess, _ := newTestSession(t, tr, nil)

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := sess.Submit(context.Background(), msg, model.DefaultParameters())
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	}
	assert.Empty(t, tr.prompts, "nothing should reach the transport")
	assert.Equal(t, "Error: Message cannot be empty.", ErrEmptyPrompt.Error())
}

func TestSubmit_NormalizesUnicode(t *testing.T) {
	tr := &echoTransport{reply: "ok"}
	sess, _ := newTestSession(t, tr, nil)

	// "e" followed by a combining acute accent
	reply, err := sess.Submit(context.Background(), "cafe\u0301", model.DefaultParameters())
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", reply.Exchange.Prompt)
}

func TestSubmit_InvalidParameters(t *testing.T) {
	sess, _ := newTestSession(t, &echoTransport{reply: "ok"}, nil)

	params := model.DefaultParameters()
	params.Temperature = 1.5
	_, err := sess.Submit(context.Background(), "hi", params)

	var perr *model.ParameterError
	assert.ErrorAs(t, err, &perr)
	assert.Empty(t, sess.History())
}

func TestSubmit_FailureIsReply(t *testing.T) {
	tr := &echoTransport{err: &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: "refused"}}
	sess, clock := newTestSession(t, tr, nil)

	reply, err := sess.Submit(context.Background(), "hello", model.DefaultParameters())
	require.NoError(t, err)
	require.False(t, reply.OK())

	assert.Equal(t, executor.KindConnection, reply.Failure.Kind)
	assert.Equal(t, executor.MsgConnection, reply.Text)
	assert.Equal(t, 3, reply.Attempts)
	assert.Equal(t, 6*time.Second, clock.TotalSlept())
	assert.Empty(t, sess.History(), "failed exchanges are not recorded")

	stats := sess.Stats()
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, 1, stats.Failures)
}

func TestSubmit_EvictsOldest(t *testing.T) {
	tr := &echoTransport{reply: "ok"}
	sess, clock := newTestSession(t, tr, func(c *config.Config) { c.UI.History.MaxMessages = 2 })
	ctx := context.Background()

	var evicted int
	for _, msg := range []string{"A", "B", "C"} {
		reply, err := sess.Submit(ctx, msg, model.DefaultParameters())
		require.NoError(t, err)
		evicted = reply.Evicted
		clock.Advance(time.Second)
	}

	assert.Equal(t, 1, evicted)
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, "B", history[0].Prompt)
	assert.Equal(t, "C", history[1].Prompt)
	assert.Equal(t, 1, sess.Stats().Evicted)
}

func TestSubmit_Busy(t *testing.T) {
	tr := &echoTransport{reply: "slow", gate: make(chan struct{})}
	sess, _ := newTestSession(t, tr, nil)

	done := make(chan error, 1)
	go func() {
		_, err := sess.Submit(context.Background(), "first", model.DefaultParameters())
		done <- err
	}()

	require.Eventually(t, sess.Busy, time.Second, time.Millisecond)

	_, err := sess.Submit(context.Background(), "second", model.DefaultParameters())
	assert.ErrorIs(t, err, ErrBusy)

	close(tr.gate)
	require.NoError(t, <-done)
	assert.False(t, sess.Busy())
	assert.Len(t, sess.History(), 1)
}

// =============================================================================
// HISTORY / EXPORT
// =============================================================================

func TestClear(t *testing.T) {
	sess, _ := newTestSession(t, &echoTransport{reply: "ok"}, nil)
	_, err := sess.Submit(context.Background(), "hello", model.DefaultParameters())
	require.NoError(t, err)

	sess.Clear()
	assert.Empty(t, sess.History())
	assert.Equal(t, 0, sess.Stats().Exchanges)
	assert.Empty(t, sess.Snapshot().Exchanges)
}

func TestExport_EmptySession(t *testing.T) {
	sess, _ := newTestSession(t, &echoTransport{}, nil)

	for _, f := range []export.Format{export.FormatJSON, export.FormatMarkdown} {
		out, err := sess.Export(f)
		require.NoError(t, err, f)
		assert.NotEmpty(t, out.Data)
		assert.Equal(t, 0, out.Exchanges)
	}
}

func TestExport_JSONRoundTrip(t *testing.T) {
	sess, _ := newTestSession(t, &echoTransport{reply: "four"}, nil)
	params := model.Parameters{Temperature: 0.2, TopP: 0.8, TopK: 10, MaxTokens: 512}
	_, err := sess.Submit(context.Background(), "2+2?", params)
	require.NoError(t, err)

	out, err := sess.Export(export.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", out.MimeType)
	assert.Equal(t, "ollama_conversation_2025-03-14_092653.json", out.Filename)

	doc, err := export.ParseJSON(out.Data)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-r1:latest", doc.Metadata.Model)
	assert.Equal(t, "Be brief.", doc.Metadata.SystemPrompt)
	require.Len(t, doc.Conversation, 1)

	got := doc.Conversation[0]
	want := sess.History()[0]
	assert.Equal(t, want.Prompt, got.Prompt)
	assert.Equal(t, want.Response, got.Response)
	assert.Equal(t, want.Parameters, got.Parameters)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
}

func TestExport_UnknownFormat(t *testing.T) {
	sess, _ := newTestSession(t, &echoTransport{}, nil)
	_, err := sess.Export(export.Format("pdf"))
	assert.ErrorIs(t, err, export.ErrUnknownFormat)
}

func TestSave(t *testing.T) {
	sess, _ := newTestSession(t, &echoTransport{reply: "answer"}, nil)
	_, err := sess.Submit(context.Background(), "question", model.DefaultParameters())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "exports")
	path, out, err := sess.Save(dir, export.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, out.Filename), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**User:**\n> question")
}

func TestStats(t *testing.T) {
	sess, clock := newTestSession(t, &echoTransport{reply: "ok"}, nil)
	_, err := sess.Submit(context.Background(), "hello", model.DefaultParameters())
	require.NoError(t, err)
	clock.Advance(90 * time.Second)

	stats := sess.Stats()
	assert.Equal(t, "test-session", stats.ID)
	assert.Equal(t, 1, stats.Exchanges)
	assert.Equal(t, 20, stats.MaxMessages)
	assert.True(t, stats.MemoryEnabled)
	assert.Equal(t, 90*time.Second, stats.Idle)
	assert.Equal(t, 90*time.Second, sess.IdleTime())

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"model":"deepseek-r1:latest"`)
}

func TestNew_CopiesConfig(t *testing.T) {
	cfg := config.Default()
	sess := New(cfg, &echoTransport{})
	cfg.Ollama.ModelName = "changed"

	assert.Equal(t, "deepseek-r1:latest", sess.Config().Ollama.ModelName)
	assert.NotEmpty(t, sess.ID())
}
