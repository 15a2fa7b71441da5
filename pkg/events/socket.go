// Package events is the push side of the live backend: a reconnecting
// websocket that decodes named events and fans them out to subscribers.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/holon-run/livetap/pkg/live"
	"github.com/holon-run/livetap/pkg/log"
)

const (
	DefaultPath              = "/api/live/socket"
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
)

type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// ReconnectAttempts bounds consecutive failed dials before giving up.
	ReconnectAttempts int
	// ReconnectDelay is waited before every redial, after a drop or a
	// failed dial alike.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

type subscriber struct {
	id      uint64
	handler func(live.Event)
}

// Socket owns at most one websocket connection at a time. The connection and
// its client identity live from the first Activate to the next Deactivate.
type Socket struct {
	cfg Config

	mu          sync.Mutex
	clientID    string
	subscribers []subscriber
	nextID      uint64
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	connected   bool
	lastError   string
}

func NewSocket(cfg Config) (*Socket, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid event url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid event url %q: scheme must be ws or wss", cfg.URL)
	}
	cfg.URL = u.String()
	return &Socket{cfg: cfg.withDefaults()}, nil
}

// Subscription removes its handler on Close. Close is idempotent.
type Subscription struct {
	socket *Socket
	id     uint64
	once   sync.Once
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.socket.unsubscribe(s.id)
	})
	return nil
}

// Activate installs handler and starts the connection loop if it is not
// already running.
func (s *Socket) Activate(ctx context.Context, handler func(live.Event)) (io.Closer, error) {
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &Subscription{socket: s, id: s.nextID}
	s.subscribers = append(s.subscribers, subscriber{id: sub.id, handler: handler})

	if !s.running {
		if s.clientID == "" {
			s.clientID = uuid.NewString()
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		s.done = make(chan struct{})
		s.running = true
		go s.run(runCtx, cancel, s.clientID, s.done)
	}
	return sub, nil
}

// Deactivate drops every subscriber, closes the connection and forgets the
// client identity. It must not be called from a subscriber handler.
func (s *Socket) Deactivate() error {
	s.mu.Lock()
	s.subscribers = nil
	s.clientID = ""
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.running = false
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ClientID is the identity of the current connection, empty when inactive.
func (s *Socket) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *Socket) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := map[string]interface{}{
		"running":     s.running,
		"url":         s.cfg.URL,
		"connected":   s.connected,
		"subscribers": len(s.subscribers),
	}
	if s.lastError != "" {
		status["last_error"] = s.lastError
	}
	return status
}

func (s *Socket) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub.id == id {
			s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func (s *Socket) run(ctx context.Context, cancel context.CancelFunc, clientID string, done chan struct{}) {
	defer func() {
		cancel()
		s.mu.Lock()
		// A loop that gave up on its own lets the next Activate start over.
		if s.done == done {
			s.running = false
			s.connected = false
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()
	logger := log.With("component", "events", "client_id", clientID)

	endpoint, err := s.endpoint(clientID)
	if err != nil {
		s.setConnectionState(false, err)
		s.dispatch(live.Event{Name: live.EventError, Message: err.Error()})
		return
	}

	failures := 0
	for ctx.Err() == nil {
		dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.setConnectionState(false, err)
			logger.Warnw("event channel dial failed", "attempt", failures, "error", err)
			if failures > s.cfg.ReconnectAttempts {
				s.dispatch(live.Event{
					Name:    live.EventError,
					Message: fmt.Sprintf("event channel unreachable after %d attempts: %v", failures, err),
				})
				return
			}
			if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		failures = 0
		s.setConnectionState(true, nil)
		logger.Debugw("event channel connected")
		s.dispatch(live.Event{Name: live.EventConnect})

		readErr := s.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			s.setConnectionState(false, nil)
			return
		}
		s.setConnectionState(false, readErr)
		logger.Infow("event channel dropped", "error", readErr)
		s.dispatch(live.Event{Name: live.EventDisconnect})
		if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
			return
		}
	}
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// ReadMessage has no context; closing the connection unblocks it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	logger := log.With("component", "events")
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if msgType != websocket.TextMessage || len(message) == 0 {
			continue
		}

		ev, err := Decode(message)
		if err != nil {
			s.setLastError(err)
			logger.Warnw("skipping undecodable frame", "error", err)
			continue
		}
		s.dispatch(ev)
	}
}

// dispatch calls subscribers in registration order, outside the lock so a
// handler may close its own subscription.
func (s *Socket) dispatch(ev live.Event) {
	s.mu.Lock()
	handlers := make([]func(live.Event), 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		handlers = append(handlers, sub.handler)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (s *Socket) endpoint(clientID string) (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Socket) setConnectionState(connected bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	if err != nil && !errors.Is(err, context.Canceled) {
		s.lastError = err.Error()
	}
}

func (s *Socket) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}
