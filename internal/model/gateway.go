// Package model defines shared types for the gateway.
package model

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// ChatCompletionRequest is the chat-completions request body accepted from
// clients. Only the fields listed here are forwarded upstream; anything else
// in the client body is dropped.
type ChatCompletionRequest struct {
	Model     string          `json:"model"`
	Messages  json.RawMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	MaxTokens *int            `json:"max_tokens,omitempty"`
}

// Outcome is a fully buffered upstream response. The body is read eagerly so
// it can be inspected (retry classification) and still returned to the caller
// with status and headers intact.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the response Content-Type header value.
func (o *Outcome) ContentType() string {
	return o.Header.Get("Content-Type")
}

// BodySnippet returns at most n characters of the body for diagnostics.
func (o *Outcome) BodySnippet(n int) string {
	s := string(o.Body)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// UpstreamResponse represents a live upstream response whose body has not
// been buffered. Used on the streaming path; the caller owns the body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ErrorResponse is the JSON error envelope returned for gateway failures.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// NewError builds the standard error envelope.
func NewError(msg string) ErrorResponse {
	return ErrorResponse{Error: true, Message: msg}
}

// BearerAuthorization extracts the Authorization header when it carries a
// Bearer token, returning the full header value for verbatim forwarding.
func BearerAuthorization(h http.Header) (string, bool) {
	v := h.Get("Authorization")
	if !strings.HasPrefix(v, "Bearer ") {
		return "", false
	}
	if strings.TrimSpace(strings.TrimPrefix(v, "Bearer ")) == "" {
		return "", false
	}
	return v, true
}
