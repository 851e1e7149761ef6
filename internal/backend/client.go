// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for communicating with the
// local skein backend process.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the backend client.
type ClientError struct {
	Type    ErrorType
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

// Is matches client errors by type so sentinels work with errors.Is even
// after wrapping with a cause.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning      = &ClientError{Type: ErrTypeNotRunning, Message: "backend is not running"}
	ErrTimeout         = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrNotFound        = &ClientError{Type: ErrTypeNotFound, Message: "conversation not found"}
	ErrInvalidResponse = &ClientError{Type: ErrTypeInvalidResponse, Message: "invalid response from backend"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the backend client.
type ClientConfig struct {
	// BaseURL is the backend base URL (default: http://127.0.0.1:8737)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6
	// resolution issues on Windows
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// StreamTimeout for establishing streaming connections (default: 5s)
	StreamTimeout time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       "http://127.0.0.1:8737",
		Timeout:       30 * time.Second,
		StreamTimeout: 5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the skein backend.
//
// It is safe for concurrent use. Two underlying HTTP clients are kept:
// one with a request timeout for CRUD calls, and one without for the chat
// stream, whose lifetime is governed by the caller's context instead.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a backend client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultClientConfig())
}

// NewClientWithConfig creates a backend client with the given configuration.
func NewClientWithConfig(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8737"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = 5 * time.Second
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		streamClient: &http.Client{
			// No overall timeout: streamed generations can run for
			// minutes. The connect phase is bounded instead: dialing
			// and waiting for response headers each get StreamTimeout.
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: cfg.StreamTimeout}).DialContext,
				ResponseHeaderTimeout: cfg.StreamTimeout,
			},
		},
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// CONVERSATION ENDPOINTS
// =============================================================================

// CreateConversation asks the backend for a new conversation in the given
// workspace and returns its server-assigned id.
func (c *Client) CreateConversation(ctx context.Context, workspace string) (string, error) {
	body := struct {
		Workspace string `json:"workspace"`
	}{Workspace: workspace}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "create returned empty conversation id"}
	}
	return resp.ID, nil
}

// FetchConversation retrieves the server's copy of a conversation.
// The pending flag reports whether the backend still has a generation in
// flight for it (used for reattach after a client restart).
func (c *Client) FetchConversation(ctx context.Context, id string) (*Conversation, bool, error) {
	var resp struct {
		Conversation
		Pending bool `json:"pending"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, false, err
	}
	conv := resp.Conversation
	return &conv, resp.Pending, nil
}

// ReplaceMessages replaces the full message history of a conversation on
// the backend. This is the durable-store write.
func (c *Client) ReplaceMessages(ctx context.Context, id string, messages []Message) error {
	body := struct {
		Messages []Message `json:"messages"`
	}{Messages: messages}
	return c.doJSON(ctx, http.MethodPut, "/conversations/"+url.PathEscape(id)+"/messages", body, nil)
}

// DeleteConversation removes a conversation from the backend.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

// ListConversations returns conversation metadata ordered by update time
// (most recent first, as the backend returns it).
func (c *Client) ListConversations(ctx context.Context) ([]ConversationMeta, error) {
	var resp struct {
		Conversations []ConversationMeta `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// RequestStop asks the backend to stop generating for a conversation.
// Best effort and fire-and-forget: a failed notification is not an error
// condition for the client, the local consumer loop has already stopped.
func (c *Client) RequestStop(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/stop", nil, nil)
}

// =============================================================================
// CHAT STREAM
// =============================================================================

// OpenStream starts a generation and returns a reader over its event
// stream. The caller owns the reader and must Close it; cancelling ctx
// stops local consumption immediately (the remote generation is stopped
// separately via RequestStop).
func (c *Client) OpenStream(ctx context.Context, req ChatRequest) (*StreamReader, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to encode chat request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to build chat request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.errorFromStatus(resp)
	}

	return NewStreamReader(resp.Body), nil
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// doJSON performs a JSON request/response round trip. A nil out discards
// the response body; a nil in sends no body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var bodyReader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to build request", Cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromStatus(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// classifyTransportError maps low-level transport failures onto the
// client error taxonomy.
func (c *Client) classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeUnknown, Message: "request cancelled", Cause: err}
	}
	// Transport-level timeouts (dial, response headers) report Timeout()
	// rather than a context error.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	// Connection refused and friends: the backend process is not up.
	return &ClientError{Type: ErrTypeConnection, Message: "cannot reach backend", Cause: err}
}

// errorFromStatus maps HTTP status codes onto client errors.
func (c *Client) errorFromStatus(resp *http.Response) error {
	// The backend sends {"error": "..."} bodies on failures; fall back to
	// the status text when absent.
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &ClientError{Type: ErrTypeNotFound, Message: msg}
	case http.StatusServiceUnavailable:
		return &ClientError{Type: ErrTypeNotRunning, Message: msg}
	default:
		return &ClientError{Type: ErrTypeInvalidResponse, Message: msg}
	}
}
