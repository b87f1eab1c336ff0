// ABOUTME: In-memory fan-out of recorded turns to watchers of a conversation
// ABOUTME: Lets other open clients learn about new turns without polling

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/querynox/internal/store"
)

// feedBufferSize is the channel buffer for each watcher.
const feedBufferSize = 32

// TurnFeed publishes recorded turns to subscribers keyed by conversation ID.
// Delivery is best-effort: a watcher whose buffer is full misses the turn.
type TurnFeed struct {
	mu       sync.RWMutex
	watchers map[string]map[string]chan *store.Turn // conversationID -> subID -> ch
	closed   bool
	logger   *slog.Logger
}

// NewTurnFeed creates a feed. Pass nil logger for default.
func NewTurnFeed(logger *slog.Logger) *TurnFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnFeed{
		watchers: make(map[string]map[string]chan *store.Turn),
		logger:   logger.With("component", "turn_feed"),
	}
}

// Subscribe registers a watcher for conversationID. The returned channel is
// closed when ctx is cancelled or the feed is closed. Subscribing to a
// closed feed returns an already-closed channel.
func (f *TurnFeed) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Turn, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Turn, feedBufferSize)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := f.watchers[conversationID]; !ok {
		f.watchers[conversationID] = make(map[string]chan *store.Turn)
	}
	f.watchers[conversationID][subID] = ch
	f.mu.Unlock()

	f.logger.Debug("watcher added", "conversation_id", conversationID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		f.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish delivers a copy of turn to every watcher of its conversation.
// It never blocks.
func (f *TurnFeed) Publish(turn *store.Turn) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for subID, ch := range f.watchers[turn.ConversationID] {
		t := *turn
		select {
		case ch <- &t:
		default:
			f.logger.Debug("dropped turn for slow watcher",
				"conversation_id", turn.ConversationID,
				"sub_id", subID)
		}
	}
}

// Unsubscribe removes a watcher and closes its channel.
func (f *TurnFeed) Unsubscribe(conversationID, subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.watchers[conversationID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(f.watchers, conversationID)
	}
}

// Watchers returns the number of watchers for conversationID.
func (f *TurnFeed) Watchers(conversationID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watchers[conversationID])
}

// Close closes every watcher channel and rejects later subscriptions.
// It is safe to call more than once.
func (f *TurnFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	for convID, subs := range f.watchers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(f.watchers, convID)
	}
}
