// ABOUTME: Server-Sent Events transport for streaming chat and conversation watch
// ABOUTME: Headers are written lazily so pre-stream failures can still be JSON errors

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/querynox/internal/conversation"
)

const (
	// sseDoneSentinel follows the terminal event of every chat stream.
	sseDoneSentinel = "event: done\ndata: [DONE]\n\n"

	watchKeepalive = 15 * time.Second
)

// setSSEHeaders prepares w for an event stream.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType string, data []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event and flushes it.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling SSE data: %w", err)
	}
	if _, err := fmt.Fprint(w, formatSSEEvent(event, dataJSON)); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// sseSink adapts an http.ResponseWriter to conversation.Sink. Nothing is
// written until the first event. Sends fail once the client's request
// context is done.
type sseSink struct {
	client  context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSESink(client context.Context, w http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{client: client, w: w, flusher: flusher}
}

func (s *sseSink) Send(_ context.Context, ev conversation.Event) error {
	if err := s.client.Err(); err != nil {
		return err
	}
	if !s.started {
		setSSEHeaders(s.w)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	return writeSSEEvent(s.w, s.flusher, string(ev.Type), ev)
}

// finish writes the done sentinel after the terminal event.
func (s *sseSink) finish() {
	if !s.started {
		return
	}
	if _, err := fmt.Fprint(s.w, sseDoneSentinel); err == nil {
		s.flusher.Flush()
	}
}

// handleChatStream handles POST /api/chat/stream.
//
// Failures before the first event (bad input, unknown conversation,
// replayed idempotency key) are JSON errors with an HTTP status. After
// that, the stream carries exactly one terminal event followed by the
// done sentinel. The pipeline runs detached from the client connection so
// a response that finishes generating is recorded even if the client left.
func (g *Gateway) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req, err := g.parseChatRequest(w, r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, ok := g.claimIdempotencyKey(w, r, req.Owner)
	if !ok {
		return
	}

	done := g.metrics.StreamOpened()
	defer done()

	sink := newSSESink(r.Context(), w, flusher)
	err = g.conversation.Stream(context.WithoutCancel(r.Context()), req, sink)
	if err != nil && !sink.started {
		release(err)
		g.sendPipelineError(w, err)
		return
	}
	sink.finish()
}

// handleWatchConversation handles GET /api/conversations/{id}/watch: an SSE
// stream of turns recorded on the conversation by any request.
func (g *Gateway) handleWatchConversation(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.PathValue("id")
	transcript, err := g.conversation.History(r.Context(), g.owner(r, r.URL.Query().Get("user_id")), id)
	if err != nil {
		g.sendPipelineError(w, err)
		return
	}

	turns, _ := g.feed.Subscribe(r.Context(), id)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := writeSSEEvent(w, flusher, "watching", toConversationResponse(transcript.Conversation)); err != nil {
		return
	}

	ticker := time.NewTicker(watchKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case turn, ok := <-turns:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, "turn", toTurnResponse(turn)); err != nil {
				return
			}
		}
	}
}
