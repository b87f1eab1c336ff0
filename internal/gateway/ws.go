// ABOUTME: WebSocket transport for streaming chat
// ABOUTME: One request frame in, the streaming event sequence out as JSON frames

package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/querynox/internal/conversation"
)

const (
	wsReadTimeout  = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is a control frame outside the event sequence.
type wsFrame struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// wsSink writes events as JSON text frames until the client goes away.
type wsSink struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	client  context.Context
	emitted bool
}

func (s *wsSink) Send(_ context.Context, ev conversation.Event) error {
	if err := s.client.Err(); err != nil {
		return err
	}
	s.emitted = true
	return s.write(ev)
}

func (s *wsSink) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *wsSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(wsWriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = s.conn.Close()
}

// handleChatWS handles GET /api/chat/ws. The client sends one ChatRequest
// frame and receives status, metadata, content and terminal event frames,
// then {"type":"done"} and a normal close. Errors before the first event
// arrive as a single {"type":"error"} frame. As with SSE, generation runs to
// completion and is recorded even if the client disconnects.
func (g *Gateway) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client, cancel := context.WithCancel(r.Context())
	defer cancel()
	sink := &wsSink{conn: conn, client: client}
	defer sink.close()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var body ChatRequest
	if err := conn.ReadJSON(&body); err != nil {
		_ = sink.write(wsFrame{Type: string(conversation.EventError), Error: "invalid request frame"})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	// Any further read error means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	done := g.metrics.StreamOpened()
	defer done()

	req := g.toSendRequest(r, body, nil)
	err = g.conversation.Stream(context.WithoutCancel(r.Context()), req, sink)
	if err != nil && !sink.emitted {
		if statusForError(err) >= http.StatusInternalServerError {
			g.logger.Error("websocket chat failed", "stage", conversation.FailedStage(err), "error", err)
		}
		_ = sink.write(wsFrame{Type: string(conversation.EventError), Error: conversation.UserMessage(err)})
	}
	_ = sink.write(wsFrame{Type: "done"})
}
