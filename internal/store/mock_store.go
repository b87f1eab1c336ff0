// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and inject failures per operation

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation   // keyed by conversation ID
	turns         map[string][]*Turn         // keyed by conversation ID
	turnIDs       map[string]struct{}        // all recorded turn IDs
	bookmarks     map[string]map[string]bool // owner -> set of conversation IDs
	nextSeq       int64

	// Fail* inject errors into the matching operation when non-nil.
	FailCreate error
	FailAppend error
	FailTouch  error
	FailList   error
	FailPing   error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		turns:         make(map[string][]*Turn),
		turnIDs:       make(map[string]struct{}),
		bookmarks:     make(map[string]map[string]bool),
	}
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return m.FailCreate
	}
	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicateConversation
	}

	// Make a copy to avoid external modification
	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *c
	return &result, nil
}

// ListConversations retrieves an owner's conversations ordered by most recent activity.
func (m *MockStore) ListConversations(ctx context.Context, owner string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Conversation
	for _, c := range m.conversations {
		if c.Owner == owner {
			cp := *c
			result = append(result, &cp)
		}
	}
	sortByActivity(result)

	if limit = clampLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortByActivity(convs []*Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
}

// TouchConversation bumps the last-activity timestamp.
func (m *MockStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailTouch != nil {
		return m.FailTouch
	}
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = at
	return nil
}

// AppendTurn records a turn and assigns its Seq.
func (m *MockStore) AppendTurn(ctx context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		return m.FailAppend
	}
	if _, ok := m.conversations[turn.ConversationID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.turnIDs[turn.ID]; ok {
		return ErrDuplicateTurn
	}

	m.nextSeq++
	turn.Seq = m.nextSeq

	t := *turn
	m.turns[t.ConversationID] = append(m.turns[t.ConversationID], &t)
	m.turnIDs[t.ID] = struct{}{}
	return nil
}

// ListTurns returns a conversation's turns ordered by creation time then Seq.
func (m *MockStore) ListTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailList != nil {
		return nil, m.FailList
	}

	src := m.turns[conversationID]
	result := make([]*Turn, 0, len(src))
	for _, t := range src {
		cp := *t
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

// TurnCount returns the number of turns recorded for a conversation.
func (m *MockStore) TurnCount(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns[conversationID])
}

// SetBookmark adds or removes a conversation from the owner's bookmark set.
func (m *MockStore) SetBookmark(ctx context.Context, owner, conversationID string, bookmarked bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return false, ErrNotFound
	}

	set := m.bookmarks[owner]
	if bookmarked {
		if set == nil {
			set = make(map[string]bool)
			m.bookmarks[owner] = set
		}
		set[conversationID] = true
		return true, nil
	}
	delete(set, conversationID)
	return false, nil
}

// ListBookmarkedConversations returns the owner's bookmarked conversations.
func (m *MockStore) ListBookmarkedConversations(ctx context.Context, owner string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Conversation
	for id := range m.bookmarks[owner] {
		if c, ok := m.conversations[id]; ok {
			cp := *c
			result = append(result, &cp)
		}
	}
	sortByActivity(result)
	return result, nil
}

// Ping returns FailPing.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.FailPing
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
