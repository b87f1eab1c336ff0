// ABOUTME: Store interface and data types for querynox persistence
// ABOUTME: Defines Conversation, Turn structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateTurn is returned when a turn with the same ID was already appended
var ErrDuplicateTurn = errors.New("turn already exists")

// Conversation is an ordered collection of turns owned by one user.
// Title and ChatName are set once at creation; only UpdatedAt changes afterwards.
type Conversation struct {
	ID        string
	Owner     string
	Title     string
	ChatName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one immutable prompt/response exchange within a conversation.
type Turn struct {
	ID             string
	ConversationID string
	// Seq is the store-assigned insertion index. It breaks ties between
	// turns that share a CreatedAt timestamp.
	Seq          int64
	Prompt       string
	Model        string
	SystemPrompt string
	WebSearch    bool
	Response     string
	CreatedAt    time.Time
}

// Store defines the interface for conversation and turn persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, owner string, limit int) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// Turns (append-only)
	AppendTurn(ctx context.Context, turn *Turn) error
	ListTurns(ctx context.Context, conversationID string) ([]*Turn, error)

	// Bookmarks
	SetBookmark(ctx context.Context, owner, conversationID string, bookmarked bool) (bool, error)
	ListBookmarkedConversations(ctx context.Context, owner string) ([]*Conversation, error)

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// clampLimit applies the listing defaults shared by all implementations.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
