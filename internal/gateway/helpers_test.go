package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/querynox/internal/config"
	"github.com/2389/querynox/internal/conversation"
	"github.com/2389/querynox/internal/store"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubModel struct {
	mu        sync.Mutex
	chunks    []string
	err       error
	last      conversation.GenerateRequest
	requested int
}

func (m *stubModel) record(req conversation.GenerateRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = req
	m.requested++
}

func (m *stubModel) lastRequest() conversation.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *stubModel) Generate(ctx context.Context, req conversation.GenerateRequest) (string, error) {
	m.record(req)
	if m.err != nil {
		return "", m.err
	}
	return strings.Join(m.chunks, ""), nil
}

func (m *stubModel) GenerateStream(ctx context.Context, req conversation.GenerateRequest) (conversation.ChunkStream, error) {
	m.record(req)
	if m.err != nil {
		return nil, m.err
	}
	return &sliceStream{chunks: append([]string(nil), m.chunks...)}, nil
}

type sliceStream struct {
	chunks []string
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error { return nil }

type stubNamer struct{}

func (stubNamer) NameFromPrompt(ctx context.Context, prompt string) (string, error) {
	return "Test Chat", nil
}

type testEnv struct {
	gw    *Gateway
	store *store.MockStore
	model *stubModel
}

func testGatewayConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:", Driver: store.DriverModernc},
		Extraction: config.ExtractionConfig{
			MaxFiles:        2,
			MaxFileBytes:    1024,
			MaxCharsPerFile: 500,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

// newTestEnv builds a gateway over a MockStore and stub providers.
// mutate may adjust config and deps before construction.
func newTestEnv(t *testing.T, mutate func(*config.Config, *Deps)) *testEnv {
	t.Helper()

	ms := store.NewMockStore()
	model := &stubModel{chunks: []string{"Hello", " ", "world"}}
	cfg := testGatewayConfig()
	deps := Deps{Store: ms, Model: model, Namer: stubNamer{}}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	gw, err := NewWithDeps(cfg, deps, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	return &testEnv{gw: gw, store: ms, model: model}
}

// do sends a JSON request through the gateway handler.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rec)["error"]
}

// createConversation runs a blocking chat that starts a new conversation.
func (e *testEnv) createConversation(t *testing.T, owner string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/chat", ChatRequest{UserID: owner, Prompt: "Hi there", Model: "gpt-3.5-turbo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[conversation.SendResult](t, rec).ConversationID
}

type sseEvent struct {
	Event string
	Data  string
}

// readSSE parses an event stream until EOF.
func readSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()

	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Event != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func eventTypes(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Event
	}
	return out
}
