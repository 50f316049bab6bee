// Package client implements the HTTP client for the chat backend: the
// initial chat request, the ServiceNow response polling endpoint, the
// acknowledgment call and the login/logout session flow. Session
// credentials travel as cookies on every request via the client's jar.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"snchat/internal/logging"
)

// ResponseKind discriminates the chat endpoint's reply shape.
type ResponseKind int

const (
	// KindEmpty is a 2xx reply carrying neither a direct answer nor an
	// async job id.
	KindEmpty ResponseKind = iota
	// KindDirect is a synchronous textual answer.
	KindDirect
	// KindAsyncJob is a deferred answer; the client must poll with the
	// returned request id.
	KindAsyncJob
)

// Request is one user message bound for the chat endpoint.
type Request struct {
	Message       string `json:"message"`
	SessionID     string `json:"session_id"`
	UseServiceNow bool   `json:"use_servicenow"`
}

// Response is the parsed reply of the chat endpoint.
type Response struct {
	Kind      ResponseKind
	Text      string // set for KindDirect
	RequestID string // set for KindAsyncJob
}

// PollResult is one poll of the response endpoint. Items preserves server
// order; an empty list means "nothing yet, keep polling".
type PollResult struct {
	Items []json.RawMessage
}

// Client talks to the chat backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given base URL with a fresh cookie jar.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}, nil
}

// NewWithHTTPClient creates a client around an existing http.Client.
// Used by tests to inject httptest transports.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// chatResponseBody mirrors the chat endpoint's success shape.
type chatResponseBody struct {
	Response           string `json:"response"`
	ServiceNowResponse *struct {
		Status    string `json:"status"`
		RequestID string `json:"requestId"`
	} `json:"servicenow_response"`
}

// Send posts one user message and parses the immediate reply.
// Returns *NetworkError, *HTTPError or *MalformedResponseError on failure.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "Send")
	defer timer.Stop()

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	logging.APIDebug("Send: session=%s servicenow=%v len=%d", req.SessionID, req.UseServiceNow, len(req.Message))

	data, err := c.do(ctx, http.MethodPost, "/chat", body)
	if err != nil {
		logging.APIError("Send failed: %v", err)
		return Response{}, err
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, &MalformedResponseError{Err: err}
	}

	if req.UseServiceNow && parsed.ServiceNowResponse != nil && parsed.ServiceNowResponse.RequestID != "" {
		logging.API("Send: async job accepted, requestId=%s", parsed.ServiceNowResponse.RequestID)
		return Response{Kind: KindAsyncJob, RequestID: parsed.ServiceNowResponse.RequestID}, nil
	}
	if parsed.Response != "" {
		return Response{Kind: KindDirect, Text: parsed.Response}, nil
	}
	return Response{Kind: KindEmpty}, nil
}

// pollResponseBody accepts both response shapes the backend emits:
// {"servicenow_response":{"body":[...]}} and {"messages":[...]}.
type pollResponseBody struct {
	ServiceNowResponse *struct {
		Body []json.RawMessage `json:"body"`
	} `json:"servicenow_response"`
	Messages []json.RawMessage `json:"messages"`
}

// Poll fetches pending items for an async request id.
func (c *Client) Poll(ctx context.Context, requestID string) (PollResult, error) {
	return c.poll(ctx, requestID, false)
}

// Acknowledge re-fetches with the acknowledge flag so the server consumes
// delivered items. The body is informational only.
func (c *Client) Acknowledge(ctx context.Context, requestID string) error {
	_, err := c.poll(ctx, requestID, true)
	return err
}

func (c *Client) poll(ctx context.Context, requestID string, acknowledge bool) (PollResult, error) {
	path := "/servicenow/responses/" + requestID
	if acknowledge {
		path += "?acknowledge=true"
	}

	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return PollResult{}, err
	}

	var parsed pollResponseBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return PollResult{}, &MalformedResponseError{Err: err}
	}

	items := parsed.Messages
	if parsed.ServiceNowResponse != nil {
		items = append(items, parsed.ServiceNowResponse.Body...)
	}
	logging.PollDebug("poll requestId=%s ack=%v items=%d", requestID, acknowledge, len(items))
	return PollResult{Items: items}, nil
}

// Login authenticates and stores the session cookie in the jar.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal login request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/login", body)
	if err != nil {
		return err
	}
	logging.API("Login: session established for %s", username)
	return nil
}

// Logout terminates the server session. The caller handles the redirect
// to the login surface.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", nil)
	return err
}

// do performs one HTTP request against the backend and returns the body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Detail: errorDetail(data)}
	}
	return data, nil
}

// errorDetail extracts the server's error text from a failure body, which
// may be plain text or a JSON {"detail": ...} envelope.
func errorDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}
