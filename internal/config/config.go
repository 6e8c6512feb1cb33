// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the chat client.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - --config flag
//   - ~/.ollama-chat/config.toml
//   - ~/.ollama-chat/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shrimpy8/ollama-chat-interface/internal/model"
	"github.com/shrimpy8/ollama-chat-interface/internal/retry"
	"github.com/shrimpy8/ollama-chat-interface/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete client configuration. A loaded *Config is treated
// as immutable: components receive it at construction and never write to it.
// Use Clone to derive a modified copy.
type Config struct {
	Ollama       OllamaConfig       `toml:"ollama" json:"ollama"`
	Request      RequestConfig      `toml:"request" json:"request"`
	Logging      LoggingConfig      `toml:"logging" json:"logging"`
	UI           UIConfig           `toml:"ui" json:"ui"`
	Conversation ConversationConfig `toml:"conversation" json:"conversation"`
	Export       ExportConfig       `toml:"export" json:"export"`
}

// OllamaConfig describes the generation endpoint.
type OllamaConfig struct {
	// BaseURL is the URL of the Ollama server
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIEndpoint is appended to BaseURL for generation calls
	APIEndpoint string `toml:"api_endpoint" json:"api_endpoint"`
	// ModelName is the model identifier sent with every request
	ModelName string `toml:"model_name" json:"model_name"`
	// Parameters are the default generation parameters
	Parameters ParametersConfig `toml:"parameters" json:"parameters"`
}

// ParametersConfig holds default generation parameters.
type ParametersConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature"`
	TopP        float64 `toml:"top_p" json:"top_p"`
	TopK        int     `toml:"top_k" json:"top_k"`
	NumPredict  int     `toml:"num_predict" json:"num_predict"`
}

// RequestConfig controls timeouts and retries.
type RequestConfig struct {
	TimeoutSecs int         `toml:"timeout" json:"timeout"`
	Retry       RetryConfig `toml:"retry" json:"retry"`
}

// RetryConfig is the on-disk form of the retry policy.
type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts" json:"max_attempts"`
	MinWaitSecs float64 `toml:"min_wait" json:"min_wait"`
	MaxWaitSecs float64 `toml:"max_wait" json:"max_wait"`
	Multiplier  float64 `toml:"multiplier" json:"multiplier"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARNING, ERROR, CRITICAL
	Level string `toml:"level" json:"level"`
	// Format is "console" or "json"
	Format      string `toml:"format" json:"format"`
	File        string `toml:"file" json:"file"`
	Console     bool   `toml:"console" json:"console"`
	FileLogging bool   `toml:"file_logging" json:"file_logging"`
}

// UIConfig contains presentation settings and the local server address.
type UIConfig struct {
	Title       string        `toml:"title" json:"title"`
	Description string        `toml:"description" json:"description"`
	Server      ServerConfig  `toml:"server" json:"server"`
	History     HistoryConfig `toml:"history" json:"history"`
}

// ServerConfig is the bind address of the local web backend.
type ServerConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
	// RateLimit is requests per minute per client (0 disables limiting)
	RateLimit int `toml:"rate_limit" json:"rate_limit"`
}

// HistoryConfig bounds the conversation log.
type HistoryConfig struct {
	MaxMessages    int  `toml:"max_messages" json:"max_messages"`
	ShowTimestamps bool `toml:"show_timestamps" json:"show_timestamps"`
}

// ConversationConfig controls prompt construction.
type ConversationConfig struct {
	SystemPrompt  string `toml:"system_prompt" json:"system_prompt"`
	MemoryEnabled bool   `toml:"memory_enabled" json:"memory_enabled"`
	ContextWindow int    `toml:"context_window" json:"context_window"`
}

// ExportConfig controls where exports are written and archived.
type ExportConfig struct {
	// OutputDir is where export files are written (empty = current directory)
	OutputDir string `toml:"output_dir" json:"output_dir"`
	// ArchivePath is the SQLite export archive (empty = ~/.ollama-chat/exports.db)
	ArchivePath string `toml:"archive_path" json:"archive_path"`
	// ArchiveEnabled records every export in the archive
	ArchiveEnabled bool `toml:"archive_enabled" json:"archive_enabled"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			APIEndpoint: "/api/generate",
			ModelName:   "deepseek-r1:latest",
			Parameters: ParametersConfig{
				Temperature: 0.7,
				TopP:        0.9,
				TopK:        40,
				NumPredict:  2048,
			},
		},
		Request: RequestConfig{
			TimeoutSecs: 120,
			Retry: RetryConfig{
				MaxAttempts: 3,
				MinWaitSecs: 2,
				MaxWaitSecs: 10,
				Multiplier:  2,
			},
		},
		Logging: LoggingConfig{
			Level:       "INFO",
			Format:      "console",
			File:        "ollama_chat.log",
			Console:     true,
			FileLogging: true,
		},
		UI: UIConfig{
			Title:       "DeepSeek-R1 AI Chat Interface",
			Description: "Chat with DeepSeek-R1 model via local Ollama server",
			Server: ServerConfig{
				Host:      "127.0.0.1",
				Port:      7860,
				RateLimit: 60,
			},
			History: HistoryConfig{
				MaxMessages:    20,
				ShowTimestamps: true,
			},
		},
		Conversation: ConversationConfig{
			SystemPrompt:  "You are a helpful AI assistant powered by DeepSeek-R1.",
			MemoryEnabled: true,
			ContextWindow: 4096,
		},
		Export: ExportConfig{
			ArchiveEnabled: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ollama-chat"), nil
}

// PathTOML returns the path to the default TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the default JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ArchivePath resolves the export archive location.
func (c *Config) ArchivePath() (string, error) {
	if c.Export.ArchivePath != "" {
		return c.Export.ArchivePath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "exports.db"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from path, or from the default locations when
// path is empty. Missing default files are not an error; a missing explicit
// path is. Environment overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromPath(path)
	}

	if p, err := PathTOML(); err == nil {
		if _, statErr := os.Stat(p); statErr == nil {
			return LoadFromPath(p)
		}
	}
	if p, err := PathJSON(); err == nil {
		if _, statErr := os.Stat(p); statErr == nil {
			return LoadFromPath(p)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes TOML (or JSON when isJSON is set) on top of the defaults.
// Keys absent from the document keep their default values.
func Parse(data []byte, isJSON bool) (*Config, error) {
	cfg := Default()
	if isJSON {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
	} else {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML: %w", err)
		}
	}
	fillDefaults(cfg)
	return cfg, nil
}

// fillDefaults replaces zero values that are never valid with defaults.
// Explicit empty strings in a file are treated as "use the default".
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = defaults.Ollama.BaseURL
	}
	if cfg.Ollama.APIEndpoint == "" {
		cfg.Ollama.APIEndpoint = defaults.Ollama.APIEndpoint
	}
	if cfg.Ollama.ModelName == "" {
		cfg.Ollama.ModelName = defaults.Ollama.ModelName
	}
	if cfg.Request.TimeoutSecs == 0 {
		cfg.Request.TimeoutSecs = defaults.Request.TimeoutSecs
	}
	if cfg.Request.Retry.MaxAttempts == 0 {
		cfg.Request.Retry.MaxAttempts = defaults.Request.Retry.MaxAttempts
	}
	if cfg.Request.Retry.Multiplier == 0 {
		cfg.Request.Retry.Multiplier = defaults.Request.Retry.Multiplier
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.UI.Server.Host == "" {
		cfg.UI.Server.Host = defaults.UI.Server.Host
	}
	if cfg.UI.Server.Port == 0 {
		cfg.UI.Server.Port = defaults.UI.Server.Port
	}
	if cfg.UI.History.MaxMessages == 0 {
		cfg.UI.History.MaxMessages = defaults.UI.History.MaxMessages
	}
	if cfg.Conversation.ContextWindow == 0 {
		cfg.Conversation.ContextWindow = defaults.Conversation.ContextWindow
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration as TOML with a header comment.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# ollama-chat configuration file\n")
	buf.WriteString("# Generated by ollama-chat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "WARN": true, "ERROR": true, "CRITICAL": true,
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Endpoint
	if u, err := url.Parse(c.Ollama.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("ollama.base_url", "invalid URL %q", c.Ollama.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("ollama.base_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if !strings.HasPrefix(c.Ollama.APIEndpoint, "/") {
		add("ollama.api_endpoint", "must start with '/'")
	}
	if strings.TrimSpace(c.Ollama.ModelName) == "" {
		add("ollama.model_name", "must not be empty")
	}

	// Parameters share range checks with the per-request validation
	if err := c.DefaultParameters().Validate(); err != nil {
		add("ollama.parameters", "%v", err)
	}

	// Request
	if c.Request.TimeoutSecs < 1 {
		add("request.timeout", "must be at least 1 second")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		add("request.retry", "%v", err)
	}

	// Logging
	if !validLevels[strings.ToUpper(c.Logging.Level)] {
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		add("logging.format", "must be 'console' or 'json'")
	}

	// UI
	if c.UI.Server.Port < 1 || c.UI.Server.Port > 65535 {
		add("ui.server.port", "must be between 1 and 65535")
	}
	if c.UI.Server.RateLimit < 0 {
		add("ui.server.rate_limit", "cannot be negative")
	}
	if c.UI.History.MaxMessages < 1 {
		add("ui.history.max_messages", "must be at least 1")
	}

	// Conversation
	if c.Conversation.ContextWindow < 1 {
		add("conversation.context_window", "must be at least 1")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// DefaultParameters returns the configured default generation parameters.
func (c *Config) DefaultParameters() model.Parameters {
	p := c.Ollama.Parameters
	return model.Parameters{
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		MaxTokens:   p.NumPredict,
	}
}

// RetryPolicy converts the retry section into a runtime policy.
func (c *Config) RetryPolicy() retry.Policy {
	r := c.Request.Retry
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		MinWait:     secondsToDuration(r.MinWaitSecs),
		MaxWait:     secondsToDuration(r.MaxWaitSecs),
		Multiplier:  r.Multiplier,
	}
}

// RequestTimeout is the per-attempt timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Request.TimeoutSecs) * time.Second
}

// GenerateURL is the full URL of the generation endpoint.
func (c *Config) GenerateURL() string {
	return strings.TrimRight(c.Ollama.BaseURL, "/") + c.Ollama.APIEndpoint
}

// ListenAddr is host:port for the local web backend.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.UI.Server.Host, c.UI.Server.Port)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
//   - OLLAMA_CHAT_MODEL: overrides ollama.model_name
//   - OLLAMA_CHAT_BASE_URL: overrides ollama.base_url
//   - OLLAMA_CHAT_TIMEOUT: overrides request.timeout (seconds)
//   - OLLAMA_CHAT_LOG_LEVEL: overrides logging.level
//   - OLLAMA_CHAT_SYSTEM_PROMPT: overrides conversation.system_prompt
//   - OLLAMA_CHAT_HOST / OLLAMA_CHAT_PORT: override ui.server
//   - OLLAMA_CHAT_MAX_MESSAGES: overrides ui.history.max_messages
//
// Malformed numeric values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OLLAMA_CHAT_MODEL"); v != "" {
		c.Ollama.ModelName = v
	}
	if v := os.Getenv("OLLAMA_CHAT_BASE_URL"); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_CHAT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Request.TimeoutSecs = n
		}
	}
	if v := os.Getenv("OLLAMA_CHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToUpper(v)
	}
	if v := os.Getenv("OLLAMA_CHAT_SYSTEM_PROMPT"); v != "" {
		c.Conversation.SystemPrompt = v
	}
	if v := os.Getenv("OLLAMA_CHAT_HOST"); v != "" {
		c.UI.Server.Host = v
	}
	if v := os.Getenv("OLLAMA_CHAT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.UI.Server.Port = n
		}
	}
	if v := os.Getenv("OLLAMA_CHAT_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.UI.History.MaxMessages = n
		}
	}
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "ollama.model_name").
// Keys match the TOML tags.
func (c *Config) Get(key string) (any, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// =============================================================================
// COPY / DISPLAY
// =============================================================================

// Clone creates a copy of the configuration. Config holds no maps or
// slices, so a struct copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns an indented JSON rendering for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
