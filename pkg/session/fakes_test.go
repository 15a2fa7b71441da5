package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/holon-run/livetap/pkg/control"
	"github.com/holon-run/livetap/pkg/live"
)

type fakeControl struct {
	mu sync.Mutex

	rotateErr error
	startResp *control.StartResponse
	startErr  error
	stopErr   error
	// beforeStart runs inside StartSession, modelling work interleaved with
	// an in-flight connect.
	beforeStart func()

	rotateCalls int
	startCalls  []string
	stopCalls   []string
}

func (f *fakeControl) RotateIdentity(ctx context.Context) (*control.RotateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotateCalls++
	if f.rotateErr != nil {
		return nil, f.rotateErr
	}
	return &control.RotateResponse{Success: true, CurrentProxy: "proxy-1"}, nil
}

func (f *fakeControl) StartSession(ctx context.Context, username string) (*control.StartResponse, error) {
	f.mu.Lock()
	f.startCalls = append(f.startCalls, username)
	hook := f.beforeStart
	resp, err := f.startResp, f.startErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &control.StartResponse{Success: true, SessionID: "s1"}, nil
	}
	return resp, nil
}

func (f *fakeControl) StopSession(ctx context.Context, sessionID string) (*control.StopResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, sessionID)
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return &control.StopResponse{Success: true}, nil
}

func (f *fakeControl) calls() (rotate int, start []string, stop []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateCalls, append([]string(nil), f.startCalls...), append([]string(nil), f.stopCalls...)
}

type fakeSubscription struct {
	t      *fakeTransport
	closed int
}

func (s *fakeSubscription) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.closed++
	if s.closed > 1 {
		return fmt.Errorf("subscription closed %d times", s.closed)
	}
	s.t.handlers--
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	activateErr error
	handler     func(live.Event)
	handlers    int
	activations int
	deactivates int
	connected   bool
	subs        []*fakeSubscription
}

func (t *fakeTransport) Activate(ctx context.Context, handler func(live.Event)) (io.Closer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activations++
	if t.activateErr != nil {
		return nil, t.activateErr
	}
	t.handler = handler
	t.handlers++
	t.connected = true
	sub := &fakeSubscription{t: t}
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (t *fakeTransport) Deactivate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deactivates++
	t.connected = false
	return nil
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// emit delivers ev to the most recently installed handler, even after its
// subscription closed, like a late frame from the socket reader.
func (t *fakeTransport) emit(ev live.Event) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

type recorder struct {
	mu       sync.Mutex
	statuses []live.Status
	notices  []Notice
}

func (r *recorder) StatusChanged(prev, next live.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		r.statuses = append(r.statuses, prev)
	}
	r.statuses = append(r.statuses, next)
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) sequence() []live.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]live.Status(nil), r.statuses...)
}

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Title)
	}
	return out
}

type harness struct {
	ctrl      *Controller
	control   *fakeControl
	transport *fakeTransport
	rec       *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		control:   &fakeControl{},
		transport: &fakeTransport{},
		rec:       &recorder{},
	}
	ctrl, err := New(Options{
		Control:   h.control,
		Transport: h.transport,
		Notifier:  h.rec,
		Observer:  h.rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) connect(t *testing.T, identifier string) {
	t.Helper()
	if err := h.ctrl.SetIdentifier(identifier); err != nil {
		t.Fatalf("SetIdentifier(%q) error = %v", identifier, err)
	}
	if err := h.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.ctrl.Status(); got != live.StatusConnected {
		t.Fatalf("status after connect = %s, want connected", got)
	}
}

var errBoom = errors.New("boom")
