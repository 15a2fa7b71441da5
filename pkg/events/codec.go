package events

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/holon-run/livetap/pkg/live"
)

// Frame is one named event on the wire: {"event": "<name>", "data": <payload>}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type countPayload struct {
	Count int `json:"count"`
}

// Decode parses a text frame into an event.
func Decode(raw []byte) (live.Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return live.Event{}, fmt.Errorf("decode frame: %w", err)
	}
	ev := live.Event{Name: live.EventName(strings.TrimSpace(f.Event))}

	var err error
	switch ev.Name {
	case live.EventViewerCount:
		ev.ViewerCount, err = decodeCount(f.Data)
	case live.EventChatMessage:
		err = decodePayload(f.Data, &ev.Chat)
	case live.EventGift:
		err = decodePayload(f.Data, &ev.Gift)
	case live.EventUserJoined, live.EventUserLeft:
		err = decodePayload(f.Data, &ev.User)
	case live.EventStreamEnded:
	case live.EventConnectionStatus:
		err = decodePayload(f.Data, &ev.Status)
	case live.EventError:
		ev.Message = decodeErrorMessage(f.Data)
	case "":
		return live.Event{}, fmt.Errorf("decode frame: missing event name")
	default:
		return live.Event{}, fmt.Errorf("decode frame: unknown event %q", f.Event)
	}
	if err != nil {
		return live.Event{}, fmt.Errorf("decode %s payload: %w", ev.Name, err)
	}
	return ev, nil
}

// Encode builds a wire frame; used by servers and tests.
func Encode(name live.EventName, data interface{}) ([]byte, error) {
	f := Frame{Event: string(name)}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = payload
	}
	return json.Marshal(f)
}

func decodePayload(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(data, out)
}

// decodeCount accepts a bare number or {"count": n}.
func decodeCount(data json.RawMessage) (int, error) {
	var n int
	if err := decodePayload(data, &n); err == nil {
		return n, nil
	}
	var obj countPayload
	if err := decodePayload(data, &obj); err != nil {
		return 0, err
	}
	return obj.Count, nil
}

// decodeErrorMessage accepts a string, {"message": "..."} or anything else
// rendered as raw JSON, so an error event is never lost.
func decodeErrorMessage(data json.RawMessage) string {
	if len(data) == 0 {
		return "unknown socket error"
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj errorPayload
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(data)
}
