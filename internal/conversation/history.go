// ABOUTME: History Reconstructor flattens stored turns into the ordered message sequence
// ABOUTME: Each turn expands to a user message followed by an assistant message

package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/2389/querynox/internal/store"
)

// History reconstructs prior messages for a conversation.
type History struct {
	store TurnLister
}

// NewHistory creates a History backed by the given store.
func NewHistory(s TurnLister) *History {
	return &History{store: s}
}

// Reconstruct loads all turns for conversationID and flattens them.
// A conversation with no turns yields an empty sequence.
func (h *History) Reconstruct(ctx context.Context, conversationID string) ([]Message, error) {
	turns, err := h.store.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing turns: %w", ErrPersistence, err)
	}
	return Flatten(turns), nil
}

// Flatten orders turns by creation time, ties broken by insertion index,
// and expands each into a (user, assistant) message pair. The input slice
// is not modified.
func Flatten(turns []*store.Turn) []Message {
	ordered := make([]*store.Turn, len(turns))
	copy(ordered, turns)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})

	msgs := make([]Message, 0, 2*len(ordered))
	for _, t := range ordered {
		msgs = append(msgs,
			Message{Role: RoleUser, Content: t.Prompt},
			Message{Role: RoleAssistant, Content: t.Response},
		)
	}
	return msgs
}
