// ABOUTME: Test doubles for the pipeline collaborators
// ABOUTME: Scripted model streams, slow or failing providers, and a recording sink

package conversation

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/querynox/internal/store"
)

// fakeModel replays chunks and optionally fails after failAfter of them.
type fakeModel struct {
	mu sync.Mutex

	chunks      []string
	failAfter   int   // -1 disables mid-stream failure
	streamErr   error // returned from Recv after failAfter chunks
	startErr    error // returned from GenerateStream / Generate
	blockOnRecv bool  // Recv waits for ctx cancellation after the chunks

	requests []GenerateRequest
}

func newFakeModel(chunks ...string) *fakeModel {
	return &fakeModel{chunks: chunks, failAfter: -1}
}

func (m *fakeModel) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	m.record(req)
	if m.startErr != nil {
		return "", m.startErr
	}
	var out string
	for _, c := range m.chunks {
		out += c
	}
	return out, nil
}

func (m *fakeModel) GenerateStream(ctx context.Context, req GenerateRequest) (ChunkStream, error) {
	m.record(req)
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &fakeStream{ctx: ctx, model: m}, nil
}

func (m *fakeModel) record(req GenerateRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func (m *fakeModel) lastRequest() GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return GenerateRequest{}
	}
	return m.requests[len(m.requests)-1]
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type fakeStream struct {
	ctx    context.Context
	model  *fakeModel
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	m := s.model
	if m.failAfter >= 0 && s.pos >= m.failAfter {
		return "", m.streamErr
	}
	if s.pos < len(m.chunks) {
		c := m.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if m.blockOnRecv {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeSearcher struct {
	result string
	err    error
	delay  time.Duration
	calls  int
	mu     sync.Mutex
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.result, f.err
}

type fakeExtractor struct {
	result string
	err    error
	delay  time.Duration
	panics bool
}

func (f *fakeExtractor) Extract(ctx context.Context, prompt string, files []File) (string, error) {
	if f.panics {
		panic("extractor exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.result, f.err
}

type fakeNamer struct {
	name string
	err  error
}

func (f *fakeNamer) NameFromPrompt(ctx context.Context, prompt string) (string, error) {
	return f.name, f.err
}

type fakeSummarizer struct {
	summary string
	err     error
	seen    int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, turns []*store.Turn) (string, error) {
	f.seen = len(turns)
	return f.summary, f.err
}

type fakeCatalog map[string]bool

func (c fakeCatalog) SupportsChat(name string) bool { return c[name] }

// recordingSink captures events and can simulate a disconnect.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	// failAfter rejects every event after this many were accepted; 0 disables.
	failAfter int
}

var errDisconnected = errors.New("client disconnected")

func (s *recordingSink) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return errDisconnected
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *recordingSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) count(t EventType) int {
	return len(s.ofType(t))
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedConversation creates a conversation with one turn per prompt, one
// second apart, all using model.
func seedConversation(t *testing.T, s Store, owner, model string, prompts ...string) *store.Conversation {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	conv := &store.Conversation{
		ID:        "conv-seeded",
		Owner:     owner,
		Title:     prompts[0],
		ChatName:  "Seeded Chat",
		CreatedAt: base,
		UpdatedAt: base,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	for i, p := range prompts {
		require.NoError(t, s.AppendTurn(ctx, &store.Turn{
			ID:             "seed-" + p,
			ConversationID: conv.ID,
			Prompt:         p,
			Model:          model,
			Response:       "re: " + p,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	return conv
}
