// Package session owns the watch session lifecycle: turning a username into a
// live session on the control channel, wiring the event channel into bounded
// histories, and tearing both down exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/holon-run/livetap/pkg/control"
	"github.com/holon-run/livetap/pkg/history"
	"github.com/holon-run/livetap/pkg/live"
	"github.com/holon-run/livetap/pkg/log"
	"github.com/holon-run/livetap/pkg/logs/redact"
	"github.com/holon-run/livetap/pkg/metrics"
)

// Controller is the single owner of a watch session's state.
type Controller struct {
	control   ControlClient
	transport Transport
	notifier  Notifier
	observer  StatusObserver
	onEvent   func(live.Event)

	mu          sync.Mutex
	identifier  string
	status      live.Status
	handle      string
	viewerCount int
	chat        *history.History[live.ChatMessage]
	gifts       *history.History[live.GiftEvent]
	users       *history.History[live.UserEvent]

	// attempt is bumped by every connect and disconnect; a connect commits
	// only if its token is still current.
	attempt uint64
	// activeGen identifies the subscription whose events are applied; zero
	// means none.
	activeGen   uint64
	nextGen     uint64
	sub         io.Closer
	tearingDown bool
	closed      bool

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// New creates a controller at rest: disconnected with empty histories.
func New(opts Options) (*Controller, error) {
	if opts.Control == nil {
		return nil, fmt.Errorf("session: control client is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	return &Controller{
		control:   opts.Control,
		transport: opts.Transport,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		onEvent:   opts.OnEvent,
		status:    live.StatusDisconnected,
		chat:      history.New[live.ChatMessage](ChatHistorySize),
		gifts:     history.New[live.GiftEvent](GiftHistorySize),
		users:     history.New[live.UserEvent](UserHistorySize),
	}, nil
}

// SetIdentifier sets the username to watch. It fails while a session exists.
func (c *Controller) SetIdentifier(identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != "" || c.tearingDown || c.status.Active() {
		return ErrSessionActive
	}
	c.identifier = strings.TrimSpace(identifier)
	return nil
}

// Snapshot returns a copy of the current state. SessionHandle is reported only
// while connected; a handle kept across a transport drop or error is still
// stopped by the next Disconnect.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Identifier:  c.identifier,
		Status:      c.status,
		ViewerCount: c.viewerCount,
		Chat:        c.chat.Items(),
		Gifts:       c.gifts.Items(),
		RecentUsers: c.users.Items(),
	}
	if c.status == live.StatusConnected {
		s.SessionHandle = c.handle
	}
	return s
}

// Status returns the current status.
func (c *Controller) Status() live.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// HasSession reports whether a backend session is held, including one kept
// while the event channel is down.
func (c *Controller) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != ""
}

// Connect rotates the backend identity, starts a session for the current
// identifier and activates the event channel. The outcome is reported through
// the status and a notice; the returned error mirrors the notice.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	// Close waits for this call, including the stop of a superseded session.
	c.wg.Add(1)
	defer c.wg.Done()
	if c.status.Active() || c.tearingDown {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	identifier := c.identifier
	if identifier == "" {
		c.mu.Unlock()
		metrics.RecordConnect("invalid")
		c.notify(NoticeError, "Username required", "Please enter a username to connect")
		return ErrIdentifierRequired
	}

	c.attempt++
	token := c.attempt
	staleHandle, staleSub := c.handle, c.sub
	c.handle, c.sub, c.activeGen = "", nil, 0
	c.setStatusLocked(live.StatusConnecting)
	c.mu.Unlock()

	logger := log.With("component", "session", "identifier", identifier, "attempt", token)
	logger.Infow("connecting")

	if staleHandle != "" || staleSub != nil {
		logger.Debugw("releasing previous session before reconnect", "session_id", staleHandle)
		c.release(ctx, staleHandle, staleSub)
	}

	rotated, err := c.control.RotateIdentity(ctx)
	if err != nil {
		return c.failConnect(token, fmt.Errorf("rotate identity: %w", err))
	}
	if rotated != nil && rotated.CurrentProxy != "" {
		logger.Debugw("identity rotated", "proxy", redact.String(rotated.CurrentProxy))
	}

	resp, err := c.control.StartSession(ctx, identifier)
	if err == nil {
		switch {
		case resp == nil || !resp.Success:
			err = control.ErrNotSuccessful
		case strings.TrimSpace(resp.SessionID) == "":
			err = control.ErrMissingSessionID
		}
	}
	if err != nil {
		return c.failConnect(token, fmt.Errorf("start session: %w", err))
	}
	handle := resp.SessionID

	c.mu.Lock()
	if token != c.attempt || c.closed {
		c.mu.Unlock()
		logger.Warnw("connect superseded, stopping orphaned session", "session_id", handle)
		metrics.RecordConnect("superseded")
		c.stopQuietly(ctx, handle)
		return nil
	}
	c.nextGen++
	gen := c.nextGen
	c.handle = handle
	c.activeGen = gen
	c.viewerCount = 0
	c.chat.Reset()
	c.gifts.Reset()
	c.users.Reset()
	metrics.SetViewerCount(0)
	c.setStatusLocked(live.StatusConnected)
	c.mu.Unlock()

	sub, err := c.transport.Activate(ctx, func(ev live.Event) {
		c.handleEvent(gen, ev)
	})
	if err != nil {
		return c.failActivation(ctx, gen, identifier, err)
	}

	c.mu.Lock()
	if c.activeGen != gen {
		// Torn down while activating.
		idle := c.activeGen == 0
		c.mu.Unlock()
		_ = sub.Close()
		if idle {
			_ = c.transport.Deactivate()
		}
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	logger.Infow("connected", "session_id", handle)
	metrics.RecordConnect("connected")
	c.notify(NoticeSuccess, "Connected", fmt.Sprintf("Connected to %s's live stream", identifier))
	return nil
}

func (c *Controller) failConnect(token uint64, err error) error {
	c.mu.Lock()
	superseded := token != c.attempt
	if !superseded {
		c.setStatusLocked(live.StatusError)
	}
	c.mu.Unlock()

	if superseded {
		metrics.RecordConnect("superseded")
		return err
	}
	log.With("component", "session").Warnw("connect failed", "error", err)
	metrics.RecordConnect("failed")
	c.notify(NoticeError, "Connection Error", noticeMessage(err, "Failed to connect to live stream"))
	return err
}

func (c *Controller) failActivation(ctx context.Context, gen uint64, identifier string, err error) error {
	c.mu.Lock()
	if c.activeGen != gen {
		c.mu.Unlock()
		return nil
	}
	handle := c.handle
	c.handle, c.activeGen = "", 0
	c.setStatusLocked(live.StatusError)
	c.mu.Unlock()

	log.With("component", "session", "identifier", identifier).Warnw("event channel activation failed", "error", err)
	c.release(ctx, handle, nil)
	metrics.RecordConnect("failed")
	err = fmt.Errorf("activate event channel: %w", err)
	c.notify(NoticeError, "Connection Error", err.Error())
	return err
}

// Disconnect stops the remote session and tears down the event channel. It is
// idempotent; a failed stop is reported but local teardown still completes.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.tearingDown {
		c.mu.Unlock()
		return nil
	}
	// Any in-flight connect must not commit after this point.
	c.attempt++
	handle, sub := c.handle, c.sub
	identifier := c.identifier
	prev := c.status
	c.sub, c.activeGen = nil, 0

	if handle == "" && sub == nil {
		if prev != live.StatusDisconnected {
			c.setStatusLocked(live.StatusDisconnected)
		}
		c.mu.Unlock()
		if prev != live.StatusDisconnected {
			metrics.RecordDisconnect(true)
			c.notify(NoticeInfo, "Disconnected", fmt.Sprintf("Disconnected from %s's live stream", identifier))
		}
		return nil
	}
	c.tearingDown = true
	c.mu.Unlock()

	logger := log.With("component", "session", "identifier", identifier, "session_id", handle)
	logger.Infow("disconnecting")

	stopErr := c.release(ctx, handle, sub)

	c.mu.Lock()
	c.handle = ""
	c.tearingDown = false
	c.setStatusLocked(live.StatusDisconnected)
	c.mu.Unlock()

	metrics.RecordDisconnect(stopErr == nil)
	if stopErr != nil {
		c.notify(NoticeError, "Disconnection Error", noticeMessage(stopErr, "Failed to disconnect from live stream"))
	}
	c.notify(NoticeInfo, "Disconnected", fmt.Sprintf("Disconnected from %s's live stream", identifier))
	logger.Infow("disconnected")
	return stopErr
}

// release disposes the subscription, stops the remote session and
// deactivates the transport, in that order. Only the stop error is returned.
func (c *Controller) release(ctx context.Context, handle string, sub io.Closer) error {
	logger := log.With("component", "session", "session_id", handle)
	if sub != nil {
		if err := sub.Close(); err != nil {
			logger.Debugw("subscription close failed", "error", err)
		}
	}

	var stopErr error
	if handle != "" {
		if _, err := c.control.StopSession(ctx, handle); err != nil {
			stopErr = fmt.Errorf("stop session: %w", err)
			logger.Warnw("stop session failed, continuing local teardown", "error", err)
		}
	}

	if err := c.transport.Deactivate(); err != nil {
		logger.Warnw("event channel deactivate failed", "error", err)
	}
	return stopErr
}

func (c *Controller) stopQuietly(ctx context.Context, handle string) {
	if _, err := c.control.StopSession(ctx, handle); err != nil {
		log.With("component", "session", "session_id", handle).Warnw("stop orphaned session failed", "error", err)
	}
}

// Close tears the session down once, waits for in-flight connects and for
// teardown started by the event channel, and rejects further connects. Later
// calls return the first result.
func (c *Controller) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		needsTeardown := c.status != live.StatusDisconnected || c.handle != "" || c.sub != nil
		c.mu.Unlock()

		if needsTeardown {
			c.closeErr = c.Disconnect(ctx)
		}
		c.wg.Wait()
	})
	return c.closeErr
}

// setStatusLocked must be called with c.mu held.
func (c *Controller) setStatusLocked(next live.Status) {
	prev := c.status
	if prev == next {
		return
	}
	c.status = next
	metrics.SetStatus(next)
	if c.observer != nil {
		c.observer.StatusChanged(prev, next)
	}
}

func (c *Controller) notify(kind NoticeKind, title, message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(Notice{Kind: kind, Title: title, Message: message})
}

// noticeMessage turns a procedure error into presentation text, hiding the
// wrapping chain behind the backend's own message where there is one.
func noticeMessage(err error, fallback string) string {
	var httpErr *control.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Message
	case errors.Is(err, control.ErrNotSuccessful), errors.Is(err, control.ErrMissingSessionID):
		return fallback
	case err != nil:
		return err.Error()
	default:
		return fallback
	}
}
