// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// MaxResponseSize caps how much of a response body is read.
const MaxResponseSize = 32 << 20

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Status  int // HTTP status, 0 when no response was received
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by Type so callers can write
// errors.Is(err, ollama.ErrModelNotFound).
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Type == e.Type && t.Status == 0 && t.Cause == nil
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeBadRequest
	ErrTypeServer
	ErrTypeInvalidResponse
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeBadRequest:
		return "bad_request"
	case ErrTypeServer:
		return "server"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning      = &ClientError{Type: ErrTypeConnection, Message: "Ollama is not running"}
	ErrTimeout         = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound   = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrInvalidResponse = &ClientError{Type: ErrTypeInvalidResponse, Message: "invalid response"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434)
	BaseURL string

	// GeneratePath is appended to BaseURL for generation (default: /api/generate)
	GeneratePath string

	// ProbeTimeout bounds health checks and model listing (default: 5s).
	// Generation calls are bounded only by the caller's context.
	ProbeTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		BaseURL:      "http://localhost:11434",
		GeneratePath: "/api/generate",
		ProbeTimeout: 5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a client, filling zero fields of cfg with defaults.
func NewClient(cfg ClientConfig) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GeneratePath == "" {
		cfg.GeneratePath = defaults.GeneratePath
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{config: cfg, httpClient: hc}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate performs one non-streaming generation call. The Stream field of
// req is forced to false. Errors are always *ClientError.
//
// A 200 response whose body is valid JSON is returned as-is, even if the
// response text is empty; deciding whether that is usable is up to the caller.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeBadRequest, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.GeneratePath, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		// A body cut off by the deadline is a timeout, not a bad payload
		if cerr := transportError(ctx, err); cerr.Type == ErrTypeTimeout {
			return nil, cerr
		}
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Status: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, data, req.Model)
	}

	var result GenerateResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Status: resp.StatusCode, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

// =============================================================================
// HEALTH CHECK / MODELS
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Status:  resp.StatusCode,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}
	return nil
}

// ListModels retrieves all locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Status:  resp.StatusCode,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// transportError classifies a failure that happened before a complete
// response was received.
func transportError(ctx context.Context, err error) *ClientError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ClientError{Type: ErrTypeUnknown, Message: "request cancelled", Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "cannot reach Ollama", Cause: err}
}

// statusError maps a non-200 response to a ClientError.
//
//	404                  -> ModelNotFound
//	502, 503, 504        -> Connection (the server or a proxy in front of it is down)
//	other 4xx            -> BadRequest
//	other 5xx / anything -> Server
func statusError(resp *http.Response, body []byte, model string) *ClientError {
	detail := strings.TrimSpace(string(body))
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		detail = apiErr.Error
	}

	cerr := &ClientError{Status: resp.StatusCode}
	if detail != "" {
		cerr.Cause = errors.New(detail)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		cerr.Type = ErrTypeModelNotFound
		cerr.Message = fmt.Sprintf("model %q not found", model)
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout:
		cerr.Type = ErrTypeConnection
		cerr.Message = "Ollama unavailable: " + resp.Status
	case code >= 400 && code < 500:
		cerr.Type = ErrTypeBadRequest
		cerr.Message = "request rejected: " + resp.Status
	default:
		cerr.Type = ErrTypeServer
		cerr.Message = "server error: " + resp.Status
	}
	return cerr
}
