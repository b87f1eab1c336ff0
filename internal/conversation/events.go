// ABOUTME: Caller-visible event sequence for streaming requests
// ABOUTME: Sink is the transport boundary; SSE and WebSocket adapters implement it

package conversation

import (
	"context"
	"fmt"
)

// EventType discriminates events delivered to a Sink.
type EventType string

const (
	EventStatus   EventType = "status"
	EventMetadata EventType = "metadata"
	EventContent  EventType = "content"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one signal of a streaming request. A stream carries status
// events, exactly one metadata event once the conversation exists, content
// events in production order, then exactly one complete or error event.
type Event struct {
	Type           EventType `json:"type"`
	Message        string    `json:"message,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ChatName       string    `json:"chat_name,omitempty"`
	Content        string    `json:"content,omitempty"`
	FullResponse   string    `json:"full_response,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Terminal reports whether e ends the event sequence.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Sink receives events for one request. A Send error means the caller is
// gone; no further events will be delivered.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

func statusEvent(msg string) Event {
	return Event{Type: EventStatus, Message: msg}
}

func metadataEvent(conversationID, chatName string) Event {
	return Event{Type: EventMetadata, ConversationID: conversationID, ChatName: chatName}
}

func contentEvent(chunk string) Event {
	return Event{Type: EventContent, Content: chunk}
}

func completeEvent(full string) Event {
	return Event{Type: EventComplete, FullResponse: full}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}

// generationErrorMessage is the human-readable cause shown for model failures.
func generationErrorMessage(err error) string {
	return fmt.Sprintf("I apologize, an error occurred with the AI service: %v", err)
}
