package conversation

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/querynox/internal/store"
)

func TestFlatten_ExpandsTurnsInOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	turns := []*store.Turn{
		{Seq: 2, Prompt: "second", Response: "r2", CreatedAt: base.Add(time.Second)},
		{Seq: 1, Prompt: "first", Response: "r1", CreatedAt: base},
	}

	msgs := Flatten(turns)

	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "r1"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "r2"},
	}, msgs)
	assert.Equal(t, "second", turns[0].Prompt, "input must not be reordered")
}

func TestFlatten_TiesBrokenByInsertionIndex(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	turns := []*store.Turn{
		{Seq: 7, Prompt: "c", CreatedAt: at},
		{Seq: 3, Prompt: "a", CreatedAt: at},
		{Seq: 5, Prompt: "b", CreatedAt: at},
	}

	msgs := Flatten(turns)

	require.Len(t, msgs, 6)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[2].Content)
	assert.Equal(t, "c", msgs[4].Content)
}

func TestFlatten_Empty(t *testing.T) {
	assert.Empty(t, Flatten(nil))
}

// Reconstruct equals flatten(sort_by(turns, createdAt, insertionIndex)) for
// randomly ordered inputs with frequent timestamp collisions.
func TestFlatten_MatchesSortedPairs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for iter := 0; iter < 50; iter++ {
		n := rng.Intn(12)
		turns := make([]*store.Turn, n)
		for i := range turns {
			turns[i] = &store.Turn{
				Seq:       int64(i + 1),
				Prompt:    string(rune('a' + i)),
				Response:  string(rune('A' + i)),
				CreatedAt: base.Add(time.Duration(rng.Intn(4)) * time.Second),
			}
		}
		rng.Shuffle(n, func(i, j int) { turns[i], turns[j] = turns[j], turns[i] })

		expected := make([]*store.Turn, n)
		copy(expected, turns)
		sort.Slice(expected, func(i, j int) bool {
			if !expected[i].CreatedAt.Equal(expected[j].CreatedAt) {
				return expected[i].CreatedAt.Before(expected[j].CreatedAt)
			}
			return expected[i].Seq < expected[j].Seq
		})
		var want []Message
		for _, turn := range expected {
			want = append(want, Message{RoleUser, turn.Prompt}, Message{RoleAssistant, turn.Response})
		}

		got := Flatten(turns)
		if n == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, want, got, "iteration %d", iter)
	}
}

func TestHistory_ReconstructFromStore(t *testing.T) {
	s := createTestStore(t)
	conv := seedConversation(t, s, "user-1", "gpt-3.5-turbo", "one", "two")
	h := NewHistory(s)
	ctx := context.Background()

	first, err := h.Reconstruct(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "re: one"},
		{Role: RoleUser, Content: "two"},
		{Role: RoleAssistant, Content: "re: two"},
	}, first)

	second, err := h.Reconstruct(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "reconstruct must be idempotent without intervening writes")
}

func TestHistory_NewConversationIsEmpty(t *testing.T) {
	h := NewHistory(store.NewMockStore())

	msgs, err := h.Reconstruct(context.Background(), "brand-new")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistory_StoreFailure(t *testing.T) {
	ms := store.NewMockStore()
	ms.FailList = errors.New("database is locked")
	h := NewHistory(ms)

	_, err := h.Reconstruct(context.Background(), "conv")
	assert.ErrorIs(t, err, ErrPersistence)
}
