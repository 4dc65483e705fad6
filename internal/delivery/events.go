// ABOUTME: Event types fanned out to live sessions and the optional relay
// ABOUTME: Covers new messages, typing indicators, and presence changes

package delivery

import (
	"context"

	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/store"
)

// EventType identifies what happened in a conversation.
type EventType string

const (
	EventNewMessage       EventType = "new_message"
	EventTypingStart      EventType = "user_typing_start"
	EventTypingStop       EventType = "user_typing_stop"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventUserDisconnected EventType = "user_disconnected"
)

// Event is one notification delivered to live sessions. Message is set only
// for EventNewMessage; Participant identifies who typed, joined, or left.
type Event struct {
	Type           EventType              `json:"type"`
	ConversationID int64                  `json:"conversation_id"`
	Message        *store.Message         `json:"message,omitempty"`
	Participant    *directory.Participant `json:"participant,omitempty"`
}

// EventSink receives every event after it has been fanned out locally.
// Implementations must not block; a failed publish is logged, not retried.
type EventSink interface {
	Publish(ctx context.Context, event *Event) error
}
