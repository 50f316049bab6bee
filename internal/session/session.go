// Package session orchestrates one conversation: it owns the session id,
// the transcript, the outbound send path and the lifecycle of at most one
// polling controller. A new submission supersedes any in-flight poll so
// the transcript never interleaves answers from two requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"snchat/internal/client"
	"snchat/internal/decode"
	"snchat/internal/logging"
	"snchat/internal/poll"
	"snchat/internal/transcript"
)

// Backend is the slice of the HTTP client a conversation needs.
type Backend interface {
	Send(ctx context.Context, req client.Request) (client.Response, error)
	Poll(ctx context.Context, requestID string) (client.PollResult, error)
	Acknowledge(ctx context.Context, requestID string) error
}

// Config controls conversation behavior.
type Config struct {
	UseServiceNow bool
	DebugMessages bool
	Poll          poll.Config
}

// Hooks receive conversation-level signals for the UI. All hooks may be
// nil. Message delivery goes through the transcript store's observer, not
// through here.
type Hooks struct {
	// OnLoading reports whether a submission is awaiting an answer.
	OnLoading func(bool)
	// OnSpinner forwards the agent's typing-indicator signals.
	OnSpinner func(bool)
	// OnReauthRequired fires when the backend rejects the session cookie.
	OnReauthRequired func()
	// OnSettled fires when a polling run reaches a terminal state.
	OnSettled func(poll.State)
}

// Conversation is a single chat session. Safe for concurrent use.
type Conversation struct {
	backend   Backend
	store     *transcript.Store
	cfg       Config
	hooks     Hooks
	sessionID string

	mu      sync.Mutex
	active  *poll.Controller
	loading bool
}

// New creates a conversation with a fresh session id.
func New(backend Backend, store *transcript.Store, cfg Config, hooks Hooks) *Conversation {
	c := &Conversation{
		backend:   backend,
		store:     store,
		cfg:       cfg,
		hooks:     hooks,
		sessionID: uuid.NewString(),
	}
	logging.Session("conversation created: session=%s servicenow=%v", c.sessionID, cfg.UseServiceNow)
	return c
}

// SessionID returns the conversation's session identifier.
func (c *Conversation) SessionID() string {
	return c.sessionID
}

// Store returns the conversation's transcript.
func (c *Conversation) Store() *transcript.Store {
	return c.store
}

// Loading reports whether a submission is currently awaiting its answer.
func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// UseServiceNow reports whether submissions target the ServiceNow agent.
func (c *Conversation) UseServiceNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.UseServiceNow
}

// SetUseServiceNow switches the target backend for future submissions.
// In-flight polling is unaffected.
func (c *Conversation) SetUseServiceNow(v bool) {
	c.mu.Lock()
	c.cfg.UseServiceNow = v
	c.mu.Unlock()
	logging.Session("servicenow mode set to %v", v)
}

// Submit sends one user message. Blank input is a silent no-op. The user
// message is appended before any network activity so it is visible even
// when the send fails. A submission while a previous answer is still
// being polled cancels that poll first.
func (c *Conversation) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.supersede()

	c.store.Append(transcript.RoleUser, transcript.KindPlain, text, transcript.SourcePrimary)
	c.setLoading(true)

	c.mu.Lock()
	useServiceNow := c.cfg.UseServiceNow
	c.mu.Unlock()

	resp, err := c.backend.Send(ctx, client.Request{
		Message:       text,
		SessionID:     c.sessionID,
		UseServiceNow: useServiceNow,
	})
	if err != nil {
		c.setLoading(false)
		c.store.Append(transcript.RoleError, transcript.KindPlain, errorText(err), transcript.SourcePrimary)
		logging.SessionError("submit failed: %v", err)
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) && httpErr.Unauthorized() && c.hooks.OnReauthRequired != nil {
			c.hooks.OnReauthRequired()
		}
		return err
	}

	switch resp.Kind {
	case client.KindDirect:
		c.setLoading(false)
		c.store.Append(transcript.RoleAssistant, transcript.KindPlain, resp.Text, transcript.SourcePrimary)
	case client.KindAsyncJob:
		c.debugf("ServiceNow accepted request %s, polling for responses", resp.RequestID)
		c.startPolling(ctx, resp.RequestID)
	case client.KindEmpty:
		c.setLoading(false)
		logging.SessionDebug("empty response for session=%s", c.sessionID)
		c.debugf("server returned an empty response")
	}
	return nil
}

// Cancel stops any in-flight polling. Idempotent.
func (c *Conversation) Cancel() {
	c.supersede()
	c.setLoading(false)
}

// supersede cancels and detaches the active controller, if any.
func (c *Conversation) supersede() {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()
	if active != nil {
		logging.Session("superseding poll for request %s", active.RequestID())
		active.Cancel()
		<-active.Done()
	}
}

func (c *Conversation) startPolling(ctx context.Context, requestID string) {
	var ctrl *poll.Controller
	ctrl = poll.New(requestID, c.backend, c.cfg.Poll, poll.Hooks{
		OnMessage: func(m decode.Message) {
			c.store.Append(m.Role, m.Kind, m.Text, transcript.SourceServiceNow)
		},
		OnSpinner: func(active bool) {
			if c.hooks.OnSpinner != nil {
				c.hooks.OnSpinner(active)
			}
		},
		OnUnauthorized: func() {
			c.store.Append(transcript.RoleError, transcript.KindPlain,
				"Your session has expired. Please log in again.", transcript.SourceServiceNow)
			if c.hooks.OnReauthRequired != nil {
				c.hooks.OnReauthRequired()
			}
		},
		OnDone: func(s poll.State) {
			c.mu.Lock()
			if c.active == ctrl {
				c.active = nil
			}
			superseded := s == poll.StateCancelled
			c.mu.Unlock()

			// A superseded poll hands the loading flag to its successor.
			if !superseded {
				c.setLoading(false)
			}
			if c.hooks.OnSettled != nil {
				c.hooks.OnSettled(s)
			}
		},
	})

	c.mu.Lock()
	c.active = ctrl
	c.mu.Unlock()
	if err := ctrl.Start(ctx); err != nil {
		// Controllers are created fresh per request; this cannot happen.
		logging.SessionError("failed to start poll controller: %v", err)
	}
}

func (c *Conversation) setLoading(v bool) {
	c.mu.Lock()
	changed := c.loading != v
	c.loading = v
	c.mu.Unlock()
	if changed && c.hooks.OnLoading != nil {
		c.hooks.OnLoading(v)
	}
}

// debugf appends a debug entry to the transcript when debug messages are
// enabled in the config.
func (c *Conversation) debugf(format string, args ...interface{}) {
	if !c.cfg.DebugMessages {
		return
	}
	c.store.Append(transcript.RoleDebug, transcript.KindPlain,
		"Debug: "+fmt.Sprintf(format, args...), transcript.SourcePrimary)
}

// errorText renders a client error as a transcript-friendly line.
func errorText(err error) string {
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Unauthorized() {
			return "Your session has expired. Please log in again."
		}
		if httpErr.Detail != "" {
			return "Error: " + httpErr.Detail
		}
		return fmt.Sprintf("Error: server returned %d", httpErr.Status)
	}
	var netErr *client.NetworkError
	if errors.As(err, &netErr) {
		return "Error: could not reach the server. Check your connection and try again."
	}
	return "Error: " + err.Error()
}
