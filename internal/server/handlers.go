// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/shrimpy8/ollama-chat-interface/internal/export"
	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/session"
	"github.com/shrimpy8/ollama-chat-interface/internal/storage"
)

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Ollama        bool   `json:"ollama"`
	Model         string `json:"model"`
	Version       string `json:"version"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Ollama:        true,
		Model:         s.cfg.Load().Ollama.ModelName,
		Version:       s.version,
		Sessions:      s.SessionCount(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	status := http.StatusOK
	if err := s.currentBackend().CheckRunning(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("ollama health check failed")
		resp.Status = "degraded"
		resp.Ollama = false
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ============================================================================
// CONFIG
// ============================================================================

// ConfigResponse is what the UI needs to draw itself.
type ConfigResponse struct {
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Model         string                 `json:"model"`
	SystemPrompt  string                 `json:"system_prompt"`
	MemoryEnabled bool                   `json:"memory_enabled"`
	MaxMessages   int                    `json:"max_messages"`
	Defaults      model.Parameters       `json:"defaults"`
	Ranges        map[string]model.Range `json:"ranges"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Load()
	writeJSON(w, http.StatusOK, ConfigResponse{
		Title:         cfg.UI.Title,
		Description:   cfg.UI.Description,
		Model:         cfg.Ollama.ModelName,
		SystemPrompt:  cfg.Conversation.SystemPrompt,
		MemoryEnabled: cfg.Conversation.MemoryEnabled,
		MaxMessages:   cfg.UI.History.MaxMessages,
		Defaults:      cfg.DefaultParameters(),
		Ranges: map[string]model.Range{
			"temperature": model.TemperatureRange,
			"top_p":       model.TopPRange,
			"top_k":       model.TopKRange,
			"max_tokens":  model.MaxTokensRange,
		},
	})
}

// ============================================================================
// CHAT
// ============================================================================

// ChatRequest is the body of POST /api/chat. Missing parameters fall back
// to the configured defaults, field by field.
type ChatRequest struct {
	Message    string            `json:"message"`
	Parameters *model.Parameters `json:"parameters,omitempty"`
}

// chatRequestBody holds parameters undecoded so they can be laid over the
// session defaults once the session is known.
type chatRequestBody struct {
	Message    string          `json:"message"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ChatResponse is returned by POST /api/chat. When OK is false, Response
// holds a message suitable for display and ErrorKind says why.
type ChatResponse struct {
	OK            bool            `json:"ok"`
	Response      string          `json:"response"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Exchange      *model.Exchange `json:"exchange,omitempty"`
	Attempts      int             `json:"attempts"`
	ElapsedMs     int64           `json:"elapsed_ms"`
	Evicted       int             `json:"evicted,omitempty"`
	HistoryLength int             `json:"history_length"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		s.log.Debug().Err(err).Msg("invalid chat request body")
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	sess := s.sessionFor(w, r)
	params := sess.Config().DefaultParameters()
	if len(req.Parameters) > 0 {
		if err := json.Unmarshal(req.Parameters, &params); err != nil {
			s.log.Debug().Err(err).Msg("invalid chat parameters")
			writeError(w, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	reply, err := sess.Submit(r.Context(), req.Message, params)
	if err != nil {
		var perr *model.ParameterError
		switch {
		case errors.Is(err, session.ErrEmptyPrompt):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &perr):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrBusy):
			writeError(w, http.StatusConflict, "A request is already in progress. Please wait.")
		default:
			s.log.Error().Err(err).Msg("chat submit failed")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	resp := ChatResponse{
		OK:            reply.OK(),
		Response:      reply.Text,
		Attempts:      reply.Attempts,
		ElapsedMs:     reply.Elapsed.Milliseconds(),
		Evicted:       reply.Evicted,
		HistoryLength: len(sess.History()),
	}
	if reply.OK() {
		ex := reply.Exchange
		resp.Exchange = &ex
	} else {
		resp.ErrorKind = reply.Failure.Kind.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if sess := s.peekSession(r); sess != nil {
		sess.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	SessionID   string           `json:"session_id"`
	MaxMessages int              `json:"max_messages"`
	Exchanges   []model.Exchange `json:"exchanges"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	writeJSON(w, http.StatusOK, HistoryResponse{
		SessionID:   sess.ID(),
		MaxMessages: sess.Stats().MaxMessages,
		Exchanges:   sess.History(),
	})
}

// ============================================================================
// EXPORT
// ============================================================================

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatJSON)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported export format: use json or markdown")
		return
	}

	sess := s.sessionFor(w, r)
	out, err := sess.Export(format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Export failed")
		return
	}

	if id := s.archiveExport(r.Context(), sess, out); id != "" {
		w.Header().Set("X-Export-Id", id)
	}

	w.Header().Set("Content-Type", out.MimeType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", contentDisposition(out.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Data)
}

// archiveExport records out when archiving is on. Failures are logged and
// never block the download.
func (s *Server) archiveExport(ctx context.Context, sess *session.Session, out *session.Exported) string {
	if s.archive == nil || !s.cfg.Load().Export.ArchiveEnabled {
		return ""
	}
	id, err := s.archive.Record(ctx, storage.Entry{
		SessionID:     sess.ID(),
		Format:        string(out.Format),
		Filename:      out.Filename,
		Model:         sess.Config().Ollama.ModelName,
		ExchangeCount: out.Exchanges,
		CreatedAt:     out.CreatedAt,
		Content:       out.Data,
	})
	if err != nil {
		s.log.Error().Err(err).Str("filename", out.Filename).Msg("failed to archive export")
		return ""
	}
	return id
}

// ExportListResponse is returned by GET /api/exports.
type ExportListResponse struct {
	Exports []storage.Entry `json:"exports"`
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "Export archive is disabled")
		return
	}

	limit := DefaultExportListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.archive.List(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list exports")
		writeError(w, http.StatusInternalServerError, "Failed to list exports")
		return
	}
	writeJSON(w, http.StatusOK, ExportListResponse{Exports: entries})
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "Export archive is disabled")
		return
	}

	id := mux.Vars(r)["id"]
	entry, err := s.archive.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Export not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("failed to load export")
		writeError(w, http.StatusInternalServerError, "Failed to load export")
		return
	}

	mime := "application/octet-stream"
	if f, err := export.ParseFormat(entry.Format); err == nil {
		if exp, err := export.ForFormat(f, nil); err == nil {
			mime = exp.MimeType()
		}
	}
	w.Header().Set("Content-Type", mime+"; charset=utf-8")
	w.Header().Set("Content-Disposition", contentDisposition(entry.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(entry.Content)
}
