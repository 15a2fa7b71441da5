// Package control is the request/response client for the live session
// backend: identity rotation, session start and session stop.
package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	PathRotateIdentity = "/api/proxy/rotate"
	PathStartSession   = "/api/live/start"
	PathStopSession    = "/api/live/stop"

	DefaultTimeout = 10 * time.Second
)

var (
	// ErrNotSuccessful is returned when the backend answers 2xx with success=false.
	ErrNotSuccessful = errors.New("control: request not successful")
	// ErrMissingSessionID is returned when a start succeeds without a session id.
	ErrMissingSessionID = errors.New("control: start succeeded without session id")
)

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// RotateResponse is the response for the identity rotation endpoint
type RotateResponse struct {
	Success      bool   `json:"success"`
	CurrentProxy string `json:"currentProxy,omitempty"`
}

// StartResponse is the response for the session start endpoint
type StartResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
}

// StopResponse is the response for the session stop endpoint
type StopResponse struct {
	Success bool `json:"success"`
}

type startRequest struct {
	Username string `json:"username"`
}

type stopRequest struct {
	SessionID string `json:"sessionId"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Client talks to the control endpoints under a base URL.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL (scheme and host, optional path prefix).
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid control url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid control url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// RotateIdentity asks the backend to switch its outbound network identity.
func (c *Client) RotateIdentity(ctx context.Context) (*RotateResponse, error) {
	var resp RotateResponse
	if err := c.post(ctx, PathRotateIdentity, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("rotate identity: %w", ErrNotSuccessful)
	}
	return &resp, nil
}

// StartSession starts watching username's broadcast and returns the session handle.
func (c *Client) StartSession(ctx context.Context, username string) (*StartResponse, error) {
	var resp StartResponse
	if err := c.post(ctx, PathStartSession, startRequest{Username: username}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("start session: %w", ErrNotSuccessful)
	}
	if strings.TrimSpace(resp.SessionID) == "" {
		return &resp, ErrMissingSessionID
	}
	return &resp, nil
}

// StopSession stops the session identified by sessionID.
func (c *Client) StopSession(ctx context.Context, sessionID string) (*StopResponse, error) {
	var resp StopResponse
	if err := c.post(ctx, PathStopSession, stopRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("stop session: %w", ErrNotSuccessful)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// newHTTPError prefers the backend's own message and falls back to the status line.
func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && strings.TrimSpace(eb.Message) != "" {
		return &HTTPError{StatusCode: resp.StatusCode, Message: eb.Message}
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("Error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
