package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// wire format of the realtime channel. one JSON envelope per frame:
//
//	{"type": "NOTIFICATION_CREATED", "data": {...}, "timestamp": "2026-08-25T10:00:00Z"}
//
// the payload is a tagged union keyed by `type`. frames that do not decode
// to a known shape are dropped by the reader, never dispatched.
type EventType string

const (
	EventTypeNotificationCreated EventType = "NOTIFICATION_CREATED"
	EventTypeNotificationUpdated EventType = "NOTIFICATION_UPDATED"
	EventTypeNotificationDeleted EventType = "NOTIFICATION_DELETED"
	EventTypeNotificationRead    EventType = "NOTIFICATION_READ"
	EventTypeHeartbeat           EventType = "HEARTBEAT"
)

// the event types that carry a notification payload and fan out to
// listeners. heartbeats only refresh liveness.
func NotificationEventTypes() []EventType {
	return []EventType{
		EventTypeNotificationCreated,
		EventTypeNotificationUpdated,
		EventTypeNotificationDeleted,
		EventTypeNotificationRead,
	}
}

type ChannelEvent struct {
	Type      EventType           `json:"type"`
	Data      *NotificationRecord `json:"data,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

func NewChannelEvent(eventType EventType, data *NotificationRecord) *ChannelEvent {
	return &ChannelEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func newHeartbeatEvent() *ChannelEvent {
	return NewChannelEvent(EventTypeHeartbeat, nil)
}

// ParseChannelEvent decodes and validates one inbound frame.
// Notification events must carry a payload with a non-zero id.
func ParseChannelEvent(message []byte) (*ChannelEvent, error) {
	var event ChannelEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, fmt.Errorf("malformed event: %v", err)
	}

	switch event.Type {
	case EventTypeHeartbeat:
		event.Data = nil
		return &event, nil
	case EventTypeNotificationCreated,
		EventTypeNotificationUpdated,
		EventTypeNotificationDeleted,
		EventTypeNotificationRead:
		if event.Data == nil {
			return nil, fmt.Errorf("event %s missing data", event.Type)
		}
		if (event.Data.NotificationId == Id{}) {
			return nil, fmt.Errorf("event %s missing notification id", event.Type)
		}
		return &event, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
}
