// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives exported conversations in SQLite.
//
// The archive uses the pure Go modernc.org/sqlite driver, so no cgo
// toolchain is needed. Every export produced by the server or the CLI is
// recorded with its session, format and rendered content, and can be
// listed or fetched again later.
//
//	archive, err := storage.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer archive.Close()
//
//	id, err := archive.Record(ctx, storage.Entry{
//	    SessionID: sess.ID(),
//	    Format:    "json",
//	    Filename:  out.Filename,
//	    Content:   out.Data,
//	})
package storage
