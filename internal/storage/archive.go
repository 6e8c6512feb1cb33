// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no export has the requested id.
	ErrNotFound = errors.New("export not found")
	// ErrClosed is returned by operations on a closed archive.
	ErrClosed = errors.New("archive is closed")
)

// DefaultMaxEntries bounds the archive when Prune is called with zero.
const DefaultMaxEntries = 500

const schema = `
CREATE TABLE IF NOT EXISTS exports (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	format         TEXT NOT NULL,
	filename       TEXT NOT NULL,
	model          TEXT NOT NULL,
	exchange_count INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	content        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exports_created ON exports(created_at);
CREATE INDEX IF NOT EXISTS idx_exports_session ON exports(session_id);
`

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one archived export.
type Entry struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Format        string    `json:"format"`
	Filename      string    `json:"filename"`
	Model         string    `json:"model"`
	ExchangeCount int       `json:"exchange_count"`
	CreatedAt     time.Time `json:"created_at"`
	// Content is left nil by List
	Content []byte `json:"-"`
}

// Size returns the length of the stored document in bytes.
func (e Entry) Size() int {
	return len(e.Content)
}

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive keeps a copy of every export in a SQLite database so earlier
// exports can be listed and downloaded again. It is safe for concurrent use.
type Archive struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Archive{db: db, path: path}, nil
}

// Path returns the database location.
func (a *Archive) Path() string {
	return a.path
}

// Close closes the database.
func (a *Archive) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.db.Close()
}

// Record stores e and returns its id. A missing id is generated and a zero
// CreatedAt is set to now.
func (a *Archive) Record(ctx context.Context, e Entry) (string, error) {
	if a.closed.Load() {
		return "", ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Content == nil {
		e.Content = []byte{}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO exports (id, session_id, format, filename, model, exchange_count, created_at, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Format, e.Filename, e.Model, e.ExchangeCount, e.CreatedAt.UnixNano(), e.Content,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record export: %w", err)
	}
	return e.ID, nil
}

// List returns up to limit entries, newest first, without their content.
// A non-positive limit returns everything.
func (a *Archive) List(ctx context.Context, limit int) ([]Entry, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, session_id, format, filename, model, exchange_count, created_at
		FROM exports
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Format, &e.Filename, &e.Model, &e.ExchangeCount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry with id, content included.
func (a *Archive) Get(ctx context.Context, id string) (*Entry, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	var e Entry
	var created int64
	err := a.db.QueryRowContext(ctx, `
		SELECT id, session_id, format, filename, model, exchange_count, created_at, content
		FROM exports WHERE id = ?`, id).
		Scan(&e.ID, &e.SessionID, &e.Format, &e.Filename, &e.Model, &e.ExchangeCount, &created, &e.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export %s: %w", id, err)
	}
	e.CreatedAt = time.Unix(0, created)
	return &e, nil
}

// Count returns the number of archived exports.
func (a *Archive) Count(ctx context.Context) (int, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exports").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count exports: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep entries and returns how many were
// removed. Zero keep means DefaultMaxEntries.
func (a *Archive) Prune(ctx context.Context, keep int) (int, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	if keep <= 0 {
		keep = DefaultMaxEntries
	}
	res, err := a.db.ExecContext(ctx, `
		DELETE FROM exports WHERE id NOT IN (
			SELECT id FROM exports ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune exports: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
