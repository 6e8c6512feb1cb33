// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/shrimpy8/ollama-chat-interface/internal/ollama"
)

// =============================================================================
// FAILURE KINDS
// =============================================================================

// FailureKind classifies why a generation call did not produce a response.
type FailureKind int

const (
	// KindUnexpected is any failure not covered below. Not retried.
	KindUnexpected FailureKind = iota
	// KindConnection means the endpoint was unreachable. Retried.
	KindConnection
	// KindTimeout means no response arrived within the request timeout. Retried.
	KindTimeout
	// KindEmptyResponse means the endpoint answered without usable content. Retried.
	KindEmptyResponse
	// KindClient means the endpoint rejected the request, e.g. an unknown model. Not retried.
	KindClient
)

func (k FailureKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindEmptyResponse:
		return "empty_response"
	case KindClient:
		return "client"
	default:
		return "unexpected"
	}
}

// MarshalText lets kinds appear by name in JSON and logs.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Retryable reports whether another attempt could plausibly succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindConnection, KindTimeout, KindEmptyResponse:
		return true
	default:
		return false
	}
}

// =============================================================================
// FAILURE
// =============================================================================

// User-facing messages. Unexpected failures deliberately carry no detail.
const (
	MsgConnection      = "Error: Cannot connect to Ollama server. Please ensure Ollama is running (ollama serve)."
	MsgTimeoutFormat   = "Error: Request timed out after %d seconds. Try a shorter prompt."
	MsgEmptyResponse   = "Error: Received empty response from the model."
	MsgInvalidResponse = "Error: Invalid response format from Ollama API."
	MsgModelNotFound   = "Error: Model '%s' not found. Pull it with: ollama pull %s"
	MsgClientRejected  = "Error: Ollama rejected the request (%s)."
	MsgUnexpected      = "Error: An unexpected error occurred. Please check the logs."
	MsgCancelled       = "Request cancelled."
)

// Failure is the typed outcome of an unsuccessful call.
type Failure struct {
	Kind FailureKind
	// Message is safe to show to the user
	Message string
	// Err is the underlying cause, for logs only
	Err error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
	}
	return f.Kind.String() + " failure"
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Cancelled reports whether the caller abandoned the call.
func (f *Failure) Cancelled() bool {
	return f != nil && errors.Is(f.Err, context.Canceled)
}

// errEmptyResponse is the cause recorded when a 200 carries no text.
var errEmptyResponse = errors.New("endpoint returned an empty response")

// classify maps a transport error to a Failure for req.
func classify(err error, req Request) *Failure {
	if errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindUnexpected, Message: MsgCancelled, Err: err}
	}

	var cerr *ollama.ClientError
	if errors.As(err, &cerr) {
		switch cerr.Type {
		case ollama.ErrTypeConnection:
			return &Failure{Kind: KindConnection, Message: MsgConnection, Err: err}
		case ollama.ErrTypeTimeout:
			return timeoutFailure(err, req)
		case ollama.ErrTypeInvalidResponse:
			return &Failure{Kind: KindEmptyResponse, Message: MsgInvalidResponse, Err: err}
		case ollama.ErrTypeModelNotFound:
			return &Failure{Kind: KindClient, Message: fmt.Sprintf(MsgModelNotFound, req.Model, req.Model), Err: err}
		case ollama.ErrTypeBadRequest:
			return &Failure{Kind: KindClient, Message: fmt.Sprintf(MsgClientRejected, statusText(cerr.Status)), Err: err}
		}
		return &Failure{Kind: KindUnexpected, Message: MsgUnexpected, Err: err}
	}

	// Transports other than *ollama.Client report plain errors
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutFailure(err, req)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return timeoutFailure(err, req)
		}
		return &Failure{Kind: KindConnection, Message: MsgConnection, Err: err}
	}
	return &Failure{Kind: KindUnexpected, Message: MsgUnexpected, Err: err}
}

func timeoutFailure(err error, req Request) *Failure {
	return &Failure{
		Kind:    KindTimeout,
		Message: fmt.Sprintf(MsgTimeoutFormat, int(req.Timeout.Seconds())),
		Err:     err,
	}
}

func statusText(code int) string {
	if code == 0 {
		return "no status"
	}
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
