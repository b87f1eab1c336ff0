package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrames collects frames until the done frame.
func readFrames(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
		if frame["type"] == "done" {
			return frames
		}
	}
}

func frameTypes(frames []map[string]any) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func TestChatWS_StreamsEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(ChatRequest{UserID: "u", Prompt: "Hi", Model: "gpt-3.5-turbo"}))

	frames := readFrames(t, conn)
	assert.Equal(t, []string{
		"status", "status", "metadata", "status",
		"content", "content", "content",
		"complete", "done",
	}, frameTypes(frames))
	assert.Equal(t, "Hello world", frames[7]["full_response"])

	id, _ := frames[2]["conversation_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, env.store.TurnCount(id))

	// Server closes normally after done
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestChatWS_PreStreamError(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(ChatRequest{UserID: "u", ConversationID: "missing", Prompt: "Hi", Model: "gpt-3.5-turbo"}))

	frames := readFrames(t, conn)
	require.Equal(t, []string{"error", "done"}, frameTypes(frames))
	assert.Equal(t, "conversation not found", frames[0]["error"])
}

func TestChatWS_InvalidFrame(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.gw.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "invalid request frame", frame["error"])
}
