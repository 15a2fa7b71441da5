// Package live defines the data carried by a live broadcast feed: connection
// statuses, the named events pushed by the event channel and their payloads.
package live

import (
	"fmt"
	"strings"
)

// Status is the connectivity state of a watch session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ParseStatus maps a wire status string to a Status.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusDisconnected:
		return StatusDisconnected, nil
	case StatusConnecting:
		return StatusConnecting, nil
	case StatusConnected:
		return StatusConnected, nil
	case StatusError:
		return StatusError, nil
	default:
		return "", fmt.Errorf("unknown connection status %q", raw)
	}
}

func (s Status) String() string {
	return string(s)
}

// Active reports whether a session is being established or is established.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}

// EventName is the name of an event delivered by the event channel.
type EventName string

const (
	EventViewerCount      EventName = "viewerCount"
	EventChatMessage      EventName = "chatMessage"
	EventGift             EventName = "gift"
	EventUserJoined       EventName = "userJoined"
	EventUserLeft         EventName = "userLeft"
	EventStreamEnded      EventName = "streamEnded"
	EventConnectionStatus EventName = "connectionStatus"
	EventError            EventName = "error"

	// Transport-level signals raised by the socket itself, not the backend.
	EventConnect    EventName = "connect"
	EventDisconnect EventName = "disconnect"
)

// ChatMessage is one chat line from the broadcast.
type ChatMessage struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// GiftEvent is a gift sent by a viewer. DiamondValue is the gift's value unit.
type GiftEvent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DiamondValue int    `json:"diamondValue"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Timestamp    int64  `json:"timestamp"`
}

// UserEvent describes a viewer joining or leaving.
type UserEvent struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Event is a decoded event from the event channel. Exactly one payload field
// is meaningful, selected by Name.
type Event struct {
	Name        EventName
	ViewerCount int
	Chat        ChatMessage
	Gift        GiftEvent
	User        UserEvent
	Status      string
	Message     string
}

func (e Event) String() string {
	switch e.Name {
	case EventViewerCount:
		return fmt.Sprintf("%s: %d", e.Name, e.ViewerCount)
	case EventChatMessage:
		return fmt.Sprintf("%s: %s - %s", e.Name, e.Chat.Username, e.Chat.Content)
	case EventGift:
		return fmt.Sprintf("%s: %s sent %s (%d)", e.Name, e.Gift.Username, e.Gift.Name, e.Gift.DiamondValue)
	case EventUserJoined, EventUserLeft:
		return fmt.Sprintf("%s: %s", e.Name, e.User.Username)
	case EventConnectionStatus:
		return fmt.Sprintf("%s: %s", e.Name, e.Status)
	case EventError:
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	default:
		return string(e.Name)
	}
}
