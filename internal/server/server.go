// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/shrimpy8/ollama-chat-interface/internal/config"
	"github.com/shrimpy8/ollama-chat-interface/internal/executor"
	"github.com/shrimpy8/ollama-chat-interface/internal/ollama"
	"github.com/shrimpy8/ollama-chat-interface/internal/session"
	"github.com/shrimpy8/ollama-chat-interface/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// SessionCookie carries the chat session id.
	SessionCookie = "ollama_chat_session"

	// MaxRequestBodySize bounds POST bodies (1MB).
	MaxRequestBodySize = 1 << 20

	// MaxSessions bounds the registry; the longest idle session is dropped
	// first, preferring sessions with no request in flight.
	MaxSessions = 256

	// DefaultExportListLimit is used when /api/exports has no limit parameter.
	DefaultExportListLimit = 50
)

// Backend is what the server needs from Ollama. *ollama.Client implements it.
type Backend interface {
	executor.Transport
	CheckRunning(ctx context.Context) error
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP backend of the chat UI. Each browser gets its own
// session, identified by a cookie.
type Server struct {
	cfg     atomic.Pointer[config.Config]
	router  *mux.Router
	server  *http.Server
	log     zerolog.Logger
	archive *storage.Archive
	limiter *RateLimiter
	version string
	started time.Time

	// sessionOpts are passed to every new session
	sessionOpts []session.Option

	mu          sync.RWMutex
	backend     Backend
	custom      bool // backend was injected and survives SetConfig
	sessions    map[string]*session.Session
	maxSessions int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithArchive records exports in a.
func WithArchive(a *storage.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithBackend replaces the Ollama client built from the config.
func WithBackend(b Backend) Option {
	return func(s *Server) {
		s.backend = b
		s.custom = true
	}
}

// WithSessionOptions passes opts to every session the server creates.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Server) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a server for cfg.
func New(cfg *config.Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		router:      mux.NewRouter(),
		log:         zerolog.Nop(),
		version:     "dev",
		started:     time.Now(),
		sessions:    make(map[string]*session.Session),
		maxSessions: MaxSessions,
	}
	s.cfg.Store(cfg.Clone())
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "server").Logger()
	if s.backend == nil {
		s.backend = newClient(cfg)
	}
	s.limiter = NewRateLimiter(cfg.UI.Server.RateLimit)

	s.setupRoutes()
	return s
}

func newClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClient(ollama.ClientConfig{
		BaseURL:      cfg.Ollama.BaseURL,
		GeneratePath: cfg.Ollama.APIEndpoint,
	})
}

// Config returns the active configuration.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// SetConfig swaps in a new configuration. Sessions that already exist keep
// the configuration they started with; new sessions use cfg.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg.Clone())

	s.mu.Lock()
	if !s.custom {
		s.backend = newClient(cfg)
	}
	s.mu.Unlock()

	s.log.Info().Str("model", cfg.Ollama.ModelName).Msg("configuration reloaded")
}

func (s *Server) currentBackend() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log),
		RateLimitMiddleware(s.limiter, s.log),
	)(s.router)
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/clear", s.handleClear).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/exports", s.handleListExports).Methods(http.MethodGet)
	api.HandleFunc("/exports/{id}", s.handleGetExport).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// ============================================================================
// SESSION REGISTRY
// ============================================================================

// sessionFor returns the caller's session, creating one (and setting the
// cookie) when the request carries no known id.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Session {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		s.mu.RLock()
		sess, ok := s.sessions[c.Value]
		s.mu.RUnlock()
		if ok {
			return sess
		}
	}

	opts := append([]session.Option{session.WithLogger(s.log)}, s.sessionOpts...)
	sess := session.New(s.cfg.Load(), s.currentBackend(), opts...)

	s.mu.Lock()
	for len(s.sessions) >= s.maxSessions && len(s.sessions) > 0 {
		s.evictIdleLocked()
	}
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.log.Debug().Str("session", sess.ID()).Msg("session created")
	return sess
}

// peekSession returns the caller's session without creating one.
func (s *Server) peekSession(r *http.Request) *session.Session {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[c.Value]
}

// evictIdleLocked drops the longest idle session. A busy session goes only
// when every session is busy; its in-flight request still completes.
func (s *Server) evictIdleLocked() {
	var victim, busyVictim string
	var longest, busyLongest time.Duration = -1, -1
	for id, sess := range s.sessions {
		idle := sess.IdleTime()
		if sess.Busy() {
			if idle > busyLongest {
				busyVictim, busyLongest = id, idle
			}
			continue
		}
		if idle > longest {
			victim, longest = id, idle
		}
	}
	if victim == "" {
		victim = busyVictim
	}
	if victim != "" {
		delete(s.sessions, victim)
		s.log.Debug().Str("session", victim).Msg("session evicted")
	}
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and blocks until Shutdown.
// It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Load().ListenAddr()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Generation may retry several times, each bounded by request.timeout
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Str("version", s.version).Msg("server starting")
	return srv.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.log.Info().Int("sessions", s.SessionCount()).Msg("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: status})
}

func contentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
