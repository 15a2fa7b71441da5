package session

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/holon-run/livetap/pkg/live"
)

func TestChatHistoryKeepsLastHundred(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	for i := 1; i <= 105; i++ {
		h.transport.emit(live.Event{Name: live.EventChatMessage, Chat: live.ChatMessage{ID: fmt.Sprintf("m%d", i)}})
		if n := len(h.ctrl.Snapshot().Chat); n > ChatHistorySize {
			t.Fatalf("chat history length %d exceeds cap", n)
		}
	}

	chat := h.ctrl.Snapshot().Chat
	if len(chat) != 100 {
		t.Fatalf("chat length = %d, want 100", len(chat))
	}
	for i, msg := range chat {
		if want := fmt.Sprintf("m%d", i+6); msg.ID != want {
			t.Fatalf("chat[%d] = %s, want %s", i, msg.ID, want)
		}
	}
}

func TestGiftAndUserHistoriesAreBounded(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	for i := 1; i <= 15; i++ {
		h.transport.emit(live.Event{Name: live.EventGift, Gift: live.GiftEvent{ID: fmt.Sprintf("g%d", i), DiamondValue: i}})
	}
	for i := 1; i <= 25; i++ {
		h.transport.emit(live.Event{Name: live.EventUserJoined, User: live.UserEvent{UserID: fmt.Sprintf("u%d", i)}})
	}

	s := h.ctrl.Snapshot()
	if len(s.Gifts) != GiftHistorySize || s.Gifts[0].ID != "g6" || s.Gifts[9].ID != "g15" {
		t.Fatalf("gifts = %+v", s.Gifts)
	}
	if len(s.RecentUsers) != UserHistorySize || s.RecentUsers[0].UserID != "u6" || s.RecentUsers[19].UserID != "u25" {
		t.Fatalf("recent users = %+v", s.RecentUsers)
	}
}

func TestViewerCount(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	h.transport.emit(live.Event{Name: live.EventViewerCount, ViewerCount: 250})
	if got := h.ctrl.Snapshot().ViewerCount; got != 250 {
		t.Fatalf("viewer count = %d, want 250", got)
	}
	// Non-monotonic values are taken as reported.
	h.transport.emit(live.Event{Name: live.EventViewerCount, ViewerCount: 3})
	if got := h.ctrl.Snapshot().ViewerCount; got != 3 {
		t.Fatalf("viewer count = %d, want 3", got)
	}
	h.transport.emit(live.Event{Name: live.EventViewerCount, ViewerCount: -7})
	if got := h.ctrl.Snapshot().ViewerCount; got != 0 {
		t.Fatalf("negative viewer count = %d, want clamped to 0", got)
	}
}

func TestUserLeftIsNotReconciled(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	h.transport.emit(live.Event{Name: live.EventUserJoined, User: live.UserEvent{UserID: "u1"}})
	h.transport.emit(live.Event{Name: live.EventUserLeft, User: live.UserEvent{UserID: "u1"}})

	if got := h.ctrl.Snapshot().RecentUsers; len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("recent users = %+v", got)
	}
}

func TestStreamEndedDisconnects(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	h.transport.emit(live.Event{Name: live.EventStreamEnded})
	h.ctrl.wg.Wait()

	if _, _, stop := h.control.calls(); !reflect.DeepEqual(stop, []string{"s1"}) {
		t.Fatalf("stop calls = %v, want [s1]", stop)
	}
	s := h.ctrl.Snapshot()
	if s.Status != live.StatusDisconnected || h.ctrl.handle != "" {
		t.Fatalf("state after stream end = %+v handle=%q", s, h.ctrl.handle)
	}
	titles := h.rec.titles()
	if !reflect.DeepEqual(titles, []string{"Connected", "Stream Ended", "Disconnected"}) {
		t.Fatalf("notices = %v", titles)
	}
	if h.rec.notices[1].Kind != NoticeInfo || h.rec.notices[1].Message != "alice's live stream has ended" {
		t.Fatalf("stream ended notice = %+v", h.rec.notices[1])
	}
}

func TestStreamEndedThenCloseStopsOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	h.transport.emit(live.Event{Name: live.EventStreamEnded})
	h.transport.emit(live.Event{Name: live.EventStreamEnded})
	if err := h.ctrl.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, _, stop := h.control.calls(); len(stop) != 1 {
		t.Fatalf("stop calls = %v, want exactly one", stop)
	}
	if h.ctrl.Status() != live.StatusDisconnected {
		t.Fatalf("status = %s", h.ctrl.Status())
	}
}

func TestConnectionStatusEvents(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	h.transport.emit(live.Event{Name: live.EventConnect})
	h.transport.emit(live.Event{Name: live.EventConnectionStatus, Status: "connecting"})
	h.transport.emit(live.Event{Name: live.EventConnectionStatus, Status: "bogus"})
	h.transport.emit(live.Event{Name: live.EventDisconnect})
	h.transport.emit(live.Event{Name: live.EventConnect})

	want := statuses(
		live.StatusDisconnected, live.StatusConnecting, live.StatusConnected,
		live.StatusConnecting,
		live.StatusDisconnected,
		live.StatusConnected,
	)
	if got := h.rec.sequence(); !reflect.DeepEqual(got, want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
}

func TestTransportErrorKeepsChannelOpen(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	h.transport.emit(live.Event{Name: live.EventError, Message: "ping timeout"})

	if h.ctrl.Status() != live.StatusError {
		t.Fatalf("status = %s, want error", h.ctrl.Status())
	}
	if h.transport.deactivates != 0 || !h.transport.Connected() {
		t.Fatalf("transport error closed the channel")
	}
	last := h.rec.notices[len(h.rec.notices)-1]
	if last.Kind != NoticeError || last.Title != "Socket Error" || last.Message != "ping timeout" {
		t.Fatalf("notice = %+v", last)
	}
}

func TestEventsAfterDisconnectAreDropped(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	if err := h.ctrl.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	h.transport.emit(live.Event{Name: live.EventChatMessage, Chat: live.ChatMessage{ID: "late"}})
	h.transport.emit(live.Event{Name: live.EventConnect})
	h.transport.emit(live.Event{Name: live.EventStreamEnded})
	h.ctrl.wg.Wait()

	s := h.ctrl.Snapshot()
	if len(s.Chat) != 0 || s.Status != live.StatusDisconnected {
		t.Fatalf("stale events applied: %+v", s)
	}
	if _, _, stop := h.control.calls(); len(stop) != 1 {
		t.Fatalf("stop calls = %v", stop)
	}
}

func TestEventsFromPreviousSessionAreDropped(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	stale := h.transport.handler
	if err := h.ctrl.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := h.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	stale(live.Event{Name: live.EventViewerCount, ViewerCount: 500})
	h.transport.emit(live.Event{Name: live.EventViewerCount, ViewerCount: 7})

	if got := h.ctrl.Snapshot().ViewerCount; got != 7 {
		t.Fatalf("viewer count = %d, want 7 from the current session only", got)
	}
}

func TestOnEventSeesAppliedEventsOnly(t *testing.T) {
	control := &fakeControl{}
	transport := &fakeTransport{}
	var seen []live.EventName
	ctrl, err := New(Options{
		Control:   control,
		Transport: transport,
		OnEvent:   func(ev live.Event) { seen = append(seen, ev.Name) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := ctrl.SetIdentifier("alice"); err != nil {
		t.Fatalf("SetIdentifier() error = %v", err)
	}
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport.emit(live.Event{Name: live.EventChatMessage, Chat: live.ChatMessage{ID: "m1"}})
	transport.emit(live.Event{Name: live.EventGift, Gift: live.GiftEvent{ID: "g1"}})
	if err := ctrl.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	transport.emit(live.Event{Name: live.EventChatMessage, Chat: live.ChatMessage{ID: "late"}})

	want := []live.EventName{live.EventChatMessage, live.EventGift}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("observed events = %v, want %v", seen, want)
	}
}
