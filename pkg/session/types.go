package session

import (
	"context"
	"errors"
	"io"

	"github.com/holon-run/livetap/pkg/control"
	"github.com/holon-run/livetap/pkg/live"
)

// History sizes are fixed; the oldest entry is evicted first.
const (
	ChatHistorySize = 100
	GiftHistorySize = 10
	UserHistorySize = 20
)

var (
	ErrIdentifierRequired = errors.New("session: identifier required")
	ErrAlreadyActive      = errors.New("session: already connecting or connected")
	ErrSessionActive      = errors.New("session: identifier cannot change while a session is active")
	ErrClosed             = errors.New("session: controller closed")
)

// ControlClient is the request/response side of the backend. *control.Client
// satisfies it.
type ControlClient interface {
	RotateIdentity(ctx context.Context) (*control.RotateResponse, error)
	StartSession(ctx context.Context, username string) (*control.StartResponse, error)
	StopSession(ctx context.Context, sessionID string) (*control.StopResponse, error)
}

// Transport is the push side of the backend.
//
// Activate connects if needed and installs handler; the returned subscription
// removes it on Close. Deactivate disconnects and drops the connection
// identity so the next Activate starts fresh.
type Transport interface {
	Activate(ctx context.Context, handler func(live.Event)) (io.Closer, error)
	Deactivate() error
}

// State is a point-in-time copy of the controller state.
type State struct {
	Identifier    string
	Status        live.Status
	SessionHandle string
	ViewerCount   int
	Chat          []live.ChatMessage
	Gifts         []live.GiftEvent
	RecentUsers   []live.UserEvent
}

// Connected is derived from Status, never tracked separately.
func (s State) Connected() bool {
	return s.Status == live.StatusConnected
}

type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a one-shot message for whoever presents the session.
type Notice struct {
	Kind    NoticeKind
	Title   string
	Message string
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type StatusObserver interface {
	StatusChanged(prev, next live.Status)
}

type StatusObserverFunc func(prev, next live.Status)

func (f StatusObserverFunc) StatusChanged(prev, next live.Status) { f(prev, next) }

// Options configures a Controller. Control and Transport are required.
type Options struct {
	Control   ControlClient
	Transport Transport
	// Notifier and Observer are called synchronously from controller
	// goroutines and must not call back into the Controller.
	Notifier Notifier
	Observer StatusObserver
	// OnEvent sees each event after it has been applied, outside the lock.
	// Events from inactive subscriptions never reach it.
	OnEvent func(live.Event)
}
