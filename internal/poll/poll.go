// Package poll drives the bounded retry loop that collects a deferred
// ServiceNow answer. A Controller owns exactly one async request id: it
// polls at a fixed interval, decodes each batch, forwards renderable
// messages to its hooks, acknowledges delivered batches and settles into
// exactly one terminal state.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"snchat/internal/client"
	"snchat/internal/decode"
	"snchat/internal/logging"
	"snchat/internal/transcript"
)

// TimeoutNotice is appended to the transcript when every attempt is
// exhausted without a content-bearing batch.
const TimeoutNotice = "No more responses from ServiceNow"

// State is the controller's lifecycle position. Exactly one terminal
// state is ever reached; after that the controller emits nothing.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateSucceeded
	StateTimedOut
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the controller's lifecycle.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateTimedOut || s == StateFailed || s == StateCancelled
}

// Fetcher is the slice of the backend client the controller needs.
type Fetcher interface {
	Poll(ctx context.Context, requestID string) (client.PollResult, error)
	Acknowledge(ctx context.Context, requestID string) error
}

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	Interval    time.Duration
	Decode      decode.Options
}

// Hooks receive the controller's outputs. All hooks are invoked from the
// controller's own goroutine, one at a time, and never after the terminal
// OnDone call. Nil hooks are skipped.
type Hooks struct {
	// OnMessage delivers one decoded message ready for the transcript.
	OnMessage func(decode.Message)
	// OnSpinner reports spinner activation and deactivation signals.
	OnSpinner func(active bool)
	// OnUnauthorized fires once when polling hits a 401, before OnDone.
	OnUnauthorized func()
	// OnDone fires exactly once with the terminal state.
	OnDone func(State)
}

// Controller runs the polling loop for one async request.
type Controller struct {
	requestID string
	fetcher   Fetcher
	cfg       Config
	hooks     Hooks

	mu       sync.Mutex
	state    State
	attempts int
	cancel   context.CancelFunc

	done chan struct{}
}

// New creates an idle controller for the given request id.
func New(requestID string, fetcher Fetcher, cfg Config, hooks Hooks) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Controller{
		requestID: requestID,
		fetcher:   fetcher,
		cfg:       cfg,
		hooks:     hooks,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// ErrAlreadyActive is returned by Start once the controller has left Idle.
var ErrAlreadyActive = errors.New("poll controller already started")

// Start launches the polling goroutine. A controller runs at most once;
// starting it again returns ErrAlreadyActive.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StatePolling
	c.mu.Unlock()

	logging.Poll("polling started: requestId=%s maxAttempts=%d interval=%v",
		c.requestID, c.cfg.MaxAttempts, c.cfg.Interval)
	go c.run(ctx)
	return nil
}

// Cancel stops the loop. Idempotent; safe to call from any goroutine and
// in any state.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many poll attempts have been consumed.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Done is closed once the controller reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// RequestID returns the async request id this controller owns.
func (c *Controller) RequestID() string {
	return c.requestID
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finish(StateCancelled)
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		stop := c.tick(ctx, attempt)
		if stop {
			return
		}

		if attempt >= c.cfg.MaxAttempts {
			logging.PollWarn("requestId=%s exhausted %d attempts", c.requestID, attempt)
			c.emit(decode.Message{
				Role: transcript.RoleSystem,
				Kind: transcript.KindPlain,
				Text: TimeoutNotice,
			})
			c.finish(StateTimedOut)
			return
		}
	}
}

// tick performs one poll attempt. Returns true when the controller
// reached a terminal state.
func (c *Controller) tick(ctx context.Context, attempt int) bool {
	res, err := c.fetcher.Poll(ctx, c.requestID)
	if err != nil {
		return c.handlePollError(ctx, attempt, err)
	}

	if len(res.Items) == 0 {
		logging.PollDebug("requestId=%s attempt=%d empty batch", c.requestID, attempt)
		return false
	}

	batch := decode.DecodeBatch(res.Items, c.cfg.Decode)
	if batch.Err != nil {
		logging.DecodeWarn("requestId=%s attempt=%d: %v", c.requestID, attempt, batch.Err)
	}

	if batch.SpinnerStart && c.hooks.OnSpinner != nil {
		c.hooks.OnSpinner(true)
	}
	for _, m := range batch.Messages {
		c.emit(m)
	}
	if batch.SpinnerEnd && c.hooks.OnSpinner != nil {
		c.hooks.OnSpinner(false)
	}

	// A batch that carried content or spinner signals is acknowledged
	// exactly once. Failures are logged and dropped; re-delivery is
	// harmless.
	if batch.ConsumedContent || batch.SpinnerStart || batch.SpinnerEnd {
		if err := c.fetcher.Acknowledge(ctx, c.requestID); err != nil {
			logging.PollWarn("requestId=%s acknowledge failed: %v", c.requestID, err)
		}
	}

	if batch.ConsumedContent {
		logging.Poll("requestId=%s succeeded after %d attempts", c.requestID, attempt)
		c.finish(StateSucceeded)
		return true
	}
	return false
}

// handlePollError classifies one failed attempt. A 401 ends the loop and
// escalates to re-authentication; everything else burns the attempt and
// keeps polling.
func (c *Controller) handlePollError(ctx context.Context, attempt int, err error) bool {
	if ctx.Err() != nil {
		c.finish(StateCancelled)
		return true
	}

	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) && httpErr.Unauthorized() {
		logging.PollError("requestId=%s unauthorized, stopping", c.requestID)
		if c.hooks.OnUnauthorized != nil {
			c.hooks.OnUnauthorized()
		}
		c.finish(StateFailed)
		return true
	}

	logging.PollWarn("requestId=%s attempt=%d failed: %v", c.requestID, attempt, err)
	return false
}

// emit forwards one message unless the controller already terminated.
func (c *Controller) emit(m decode.Message) {
	c.mu.Lock()
	terminal := c.state.Terminal()
	c.mu.Unlock()
	if terminal || c.hooks.OnMessage == nil {
		return
	}
	c.hooks.OnMessage(m)
}

// finish performs the single transition into a terminal state. Later
// calls with a different state lose; only the first one fires OnDone.
func (c *Controller) finish(next State) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	logging.Poll("requestId=%s terminal state: %s", c.requestID, next)
	if c.hooks.OnDone != nil {
		c.hooks.OnDone(next)
	}
}
