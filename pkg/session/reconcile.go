package session

import (
	"context"
	"fmt"

	"github.com/holon-run/livetap/pkg/live"
	"github.com/holon-run/livetap/pkg/log"
	"github.com/holon-run/livetap/pkg/metrics"
)

// handleEvent folds one event into the state. Events from a subscription other
// than the active one are dropped; they belong to a session already torn down.
func (c *Controller) handleEvent(gen uint64, ev live.Event) {
	logger := log.With("component", "session", "event", string(ev.Name))

	c.mu.Lock()
	if gen == 0 || gen != c.activeGen {
		c.mu.Unlock()
		logger.Debugw("dropping event from inactive subscription")
		return
	}
	identifier := c.identifier
	metrics.RecordEvent(ev.Name)

	switch ev.Name {
	case live.EventViewerCount:
		n := ev.ViewerCount
		if n < 0 {
			logger.Debugw("clamping negative viewer count", "count", n)
			n = 0
		}
		c.viewerCount = n
		metrics.SetViewerCount(n)

	case live.EventChatMessage:
		if c.chat.Push(ev.Chat) {
			metrics.RecordEviction("chat")
		}

	case live.EventGift:
		if c.gifts.Push(ev.Gift) {
			metrics.RecordEviction("gifts")
		}

	case live.EventUserJoined:
		if c.users.Push(ev.User) {
			metrics.RecordEviction("users")
		}

	case live.EventUserLeft:
		// Delivered by the backend but not reflected in state.
		logger.Debugw("user left", "user_id", ev.User.UserID)

	case live.EventConnect:
		c.setStatusLocked(live.StatusConnected)

	case live.EventDisconnect:
		c.setStatusLocked(live.StatusDisconnected)

	case live.EventConnectionStatus:
		status, err := live.ParseStatus(ev.Status)
		if err != nil {
			logger.Warnw("ignoring connection status", "error", err)
			break
		}
		c.setStatusLocked(status)

	case live.EventError:
		c.setStatusLocked(live.StatusError)
		c.mu.Unlock()
		logger.Warnw("event channel error", "message", ev.Message)
		c.notify(NoticeError, "Socket Error", ev.Message)
		return

	case live.EventStreamEnded:
		// Teardown runs off the delivering goroutine: Disconnect deactivates
		// the transport, which waits for that goroutine to exit.
		c.wg.Add(1)
		c.mu.Unlock()
		logger.Infow("stream ended", "identifier", identifier)
		c.notify(NoticeInfo, "Stream Ended", fmt.Sprintf("%s's live stream has ended", identifier))
		go func() {
			defer c.wg.Done()
			_ = c.Disconnect(context.Background())
		}()
		return

	default:
		logger.Debugw("ignoring unknown event")
	}
	c.mu.Unlock()

	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
