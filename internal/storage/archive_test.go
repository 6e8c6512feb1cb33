// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "nested", "exports.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// =============================================================================
// ARCHIVE TESTS
// =============================================================================

func TestArchive_RecordAndGet(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 14, 9, 26, 53, 123456789, time.UTC)

	id, err := a.Record(ctx, Entry{
		SessionID:     "sess-1",
		Format:        "json",
		Filename:      "ollama_conversation_2025-03-14_092653.json",
		Model:         "deepseek-r1:latest",
		ExchangeCount: 2,
		CreatedAt:     created,
		Content:       []byte(`{"conversation":[]}`),
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected generated ID")
	}

	got, err := a.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SessionID != "sess-1" || got.Format != "json" || got.ExchangeCount != 2 {
		t.Errorf("unexpected entry: %+v", got)
	}
	if string(got.Content) != `{"conversation":[]}` {
		t.Errorf("Content = %q", got.Content)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Size() != len(`{"conversation":[]}`) {
		t.Errorf("Size() = %d", got.Size())
	}
}

func TestArchive_KeepsExplicitID(t *testing.T) {
	a := openTestArchive(t)
	id, err := a.Record(context.Background(), Entry{ID: "fixed", SessionID: "s", Format: "markdown", Filename: "f.md"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id != "fixed" {
		t.Errorf("id = %q, want fixed", id)
	}

	if _, err := a.Record(context.Background(), Entry{ID: "fixed", SessionID: "s"}); err == nil {
		t.Error("duplicate id should fail")
	}
}

func TestArchive_GetMissing(t *testing.T) {
	a := openTestArchive(t)
	_, err := a.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestArchive_ListNewestFirst(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := a.Record(ctx, Entry{
			ID:        fmt.Sprintf("e%d", i),
			SessionID: "s",
			Format:    "json",
			Filename:  fmt.Sprintf("f%d.json", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Content:   []byte("x"),
		})
		if err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	entries, err := a.List(ctx, 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i, want := range []string{"e4", "e3", "e2"} {
		if entries[i].ID != want {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, want)
		}
		if entries[i].Content != nil {
			t.Errorf("List should not load content")
		}
	}

	all, err := a.List(ctx, 0)
	if err != nil {
		t.Fatalf("List(0) failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("List(0) len = %d, want 5", len(all))
	}
}

func TestArchive_ListEmpty(t *testing.T) {
	a := openTestArchive(t)
	entries, err := a.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %v, want empty non-nil slice", entries)
	}
}

func TestArchive_Prune(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 6; i++ {
		if _, err := a.Record(ctx, Entry{SessionID: "s", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := a.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
	if n, _ := a.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestArchive_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := a.Record(context.Background(), Entry{SessionID: "s", Content: []byte("kept")})
	if err != nil {
		t.Fatal(err)
	}
	a.Close()

	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	got, err := b.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got.Content) != "kept" {
		t.Errorf("Content = %q", got.Content)
	}
}

func TestArchive_Closed(t *testing.T) {
	a := openTestArchive(t)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := a.Record(context.Background(), Entry{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Record err = %v, want ErrClosed", err)
	}
	if _, err := a.List(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("List err = %v, want ErrClosed", err)
	}
}

func TestArchive_ConcurrentRecord(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Record(ctx, Entry{SessionID: "s", Content: []byte("x")}); err != nil {
				t.Errorf("Record failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _ := a.Count(ctx); n != 20 {
		t.Errorf("Count = %d, want 20", n)
	}
}
