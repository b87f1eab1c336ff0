// ABOUTME: Tests for the SSE chat stream and conversation watch endpoints
// ABOUTME: Drives a real httptest server and parses the event stream

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/querynox/internal/conversation"
)

func postStream(t *testing.T, srv *httptest.Server, body ChatRequest) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/chat/stream", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatStream_NewConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	resp := postStream(t, srv, ChatRequest{UserID: "u", Prompt: "Hi", Model: "gpt-3.5-turbo"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp.Body)
	assert.Equal(t, []string{
		"status", "status", "metadata", "status",
		"content", "content", "content",
		"complete", "done",
	}, eventTypes(events))

	var meta conversation.Event
	require.NoError(t, json.Unmarshal([]byte(events[2].Data), &meta))
	assert.NotEmpty(t, meta.ConversationID)
	assert.Equal(t, "Test Chat", meta.ChatName)

	var complete conversation.Event
	require.NoError(t, json.Unmarshal([]byte(events[7].Data), &complete))
	assert.Equal(t, "Hello world", complete.FullResponse)
	assert.Equal(t, "[DONE]", events[8].Data)

	assert.Equal(t, 1, env.store.TurnCount(meta.ConversationID))
}

func TestChatStream_ExistingConversationWithSearchWarning(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createConversation(t, "u")
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	resp := postStream(t, srv, ChatRequest{UserID: "u", ConversationID: id, Prompt: "More", Model: "gpt-3.5-turbo", WebSearch: true})
	events := readSSE(t, resp.Body)

	types := eventTypes(events)
	require.GreaterOrEqual(t, len(types), 5)
	assert.Equal(t, []string{"status", "metadata", "status", "status", "status", "status"}, types[:6])
	assert.Equal(t, []string{"complete", "done"}, types[len(types)-2:])

	var statuses []string
	for _, ev := range events {
		if ev.Event == "status" {
			var e conversation.Event
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &e))
			statuses = append(statuses, e.Message)
		}
	}
	assert.Equal(t, "Loading chat...", statuses[0])
	assert.Equal(t, "Searching the web...", statuses[1])
	assert.True(t, strings.HasPrefix(statuses[2], "Web search failed:"), statuses[2])
	assert.Equal(t, "Loading conversation history...", statuses[3])
	assert.Equal(t, "Generating AI response...", statuses[4])
	assert.Equal(t, 2, env.store.TurnCount(id))
}

func TestChatStream_PreStreamErrorsAreJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	resp := postStream(t, srv, ChatRequest{UserID: "u", ConversationID: "missing", Prompt: "Hi", Model: "gpt-3.5-turbo"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "conversation not found", body["error"])

	resp = postStream(t, srv, ChatRequest{UserID: "u", Model: "gpt-3.5-turbo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatStream_GenerationFailureIsSingleErrorEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.model.err = errors.New("rate limited")
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	resp := postStream(t, srv, ChatRequest{UserID: "u", Prompt: "Hi", Model: "gpt-3.5-turbo"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSE(t, resp.Body)
	types := eventTypes(events)
	assert.Equal(t, []string{"error", "done"}, types[len(types)-2:])
	assert.NotContains(t, types, "complete")

	var failure conversation.Event
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2].Data), &failure))
	assert.Equal(t, "I apologize, an error occurred with the AI service: rate limited", failure.Error)
}

func TestChatStream_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	send := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat/stream",
			strings.NewReader(`{"user_id":"u","prompt":"Hi","model":"gpt-3.5-turbo"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "stream-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	first := send()
	require.Equal(t, http.StatusOK, first.StatusCode)
	readSSE(t, first.Body)

	assert.Equal(t, http.StatusConflict, send().StatusCode)
}

// nextSSE reads one event from an open stream, skipping comments.
func nextSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.Event != "":
			return ev
		}
	}
}

func TestWatchConversation_ReceivesNewTurns(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createConversation(t, "u")
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/conversations/"+id+"/watch?user_id=u", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	watching := nextSSE(t, reader)
	require.Equal(t, "watching", watching.Event)
	assert.Contains(t, watching.Data, id)

	rec := env.do(t, http.MethodPost, "/api/chat", ChatRequest{UserID: "u", ConversationID: id, Prompt: "Follow up", Model: "gpt-3.5-turbo"})
	require.Equal(t, http.StatusOK, rec.Code)

	turnEvent := nextSSE(t, reader)
	require.Equal(t, "turn", turnEvent.Event)
	var turn TurnResponse
	require.NoError(t, json.Unmarshal([]byte(turnEvent.Data), &turn))
	assert.Equal(t, "Follow up", turn.Prompt)
	assert.Equal(t, "Hello world", turn.Response)
}

func TestWatchConversation_UnknownConversation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/conversations/missing/watch?user_id=u", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormatSSEEvent(t *testing.T) {
	got := formatSSEEvent("content", []byte(`{"type":"content","content":"hi"}`))
	assert.Equal(t, "event: content\ndata: {\"type\":\"content\",\"content\":\"hi\"}\n\n", got)
}
