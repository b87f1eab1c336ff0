// ABOUTME: HTTP API handlers for chat, model switching, history, bookmarks and the model catalog
// ABOUTME: Decodes JSON and multipart requests and maps pipeline errors to HTTP statuses

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/querynox/internal/auth"
	"github.com/2389/querynox/internal/catalog"
	"github.com/2389/querynox/internal/config"
	"github.com/2389/querynox/internal/conversation"
	"github.com/2389/querynox/internal/dedupe"
	"github.com/2389/querynox/internal/store"
)

const (
	maxJSONBody       = 1 << 20
	multipartMemory   = 8 << 20
	multipartOverhead = 1 << 20
	defaultListLimit  = 50
	maxListLimit      = 1000
)

// FlexBool decodes JSON booleans and their string forms ("true", "1").
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", s)
	}
	*b = FlexBool(v)
	return nil
}

// ChatRequest is the JSON body of POST /api/chat and /api/chat/stream, and
// the first frame of /api/chat/ws. Multipart requests carry the same fields
// as form values plus "files" parts.
type ChatRequest struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	WebSearch      FlexBool `json:"web_search,omitempty"`
}

// SwitchModelRequest is the JSON body of POST /api/chat/switch-model.
type SwitchModelRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	Model          string `json:"model"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
}

// BookmarkRequest is the JSON body of PUT /api/conversations/{id}/bookmark.
type BookmarkRequest struct {
	UserID     string `json:"user_id,omitempty"`
	Bookmarked bool   `json:"bookmarked"`
}

// BookmarkResponse reports bookmark membership after an update.
type BookmarkResponse struct {
	ConversationID string `json:"conversation_id"`
	Bookmarked     bool   `json:"bookmarked"`
}

// ConversationResponse is one conversation in list and detail responses.
type ConversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ChatName  string `json:"chat_name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TurnResponse is one recorded prompt/response exchange.
type TurnResponse struct {
	ID           string `json:"id"`
	Prompt       string `json:"prompt"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	WebSearch    bool   `json:"web_search"`
	Response     string `json:"response"`
	CreatedAt    string `json:"created_at"`
}

// ConversationListResponse is the JSON response for GET /api/conversations and /api/bookmarks.
type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// ConversationDetailResponse is the JSON response for GET /api/conversations/{id}.
type ConversationDetailResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Turns        []TurnResponse       `json:"turns"`
}

// ModelListResponse is the JSON response for GET /api/models.
type ModelListResponse struct {
	Models []catalog.Model `json:"models"`
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		ChatName:  c.ChatName,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toTurnResponse(t *store.Turn) TurnResponse {
	return TurnResponse{
		ID:           t.ID,
		Prompt:       t.Prompt,
		Model:        t.Model,
		SystemPrompt: t.SystemPrompt,
		WebSearch:    t.WebSearch,
		Response:     t.Response,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toConversationList(convs []*store.Conversation) ConversationListResponse {
	resp := ConversationListResponse{Conversations: make([]ConversationResponse, len(convs))}
	for i, c := range convs {
		resp.Conversations[i] = toConversationResponse(c)
	}
	return resp
}

// owner resolves the conversation owner for r. With auth enabled it is the
// token subject and claimed is ignored.
func (g *Gateway) owner(r *http.Request, claimed string) string {
	if g.verifier != nil {
		return auth.OwnerFromContext(r.Context())
	}
	return claimed
}

// handleChat handles POST /api/chat: the blocking pipeline.
// Returns 201 when a conversation was created and 200 when appended to.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := g.parseChatRequest(w, r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, ok := g.claimIdempotencyKey(w, r, req.Owner)
	if !ok {
		return
	}

	result, err := g.conversation.Send(r.Context(), req)
	if err != nil {
		release(err)
		g.sendPipelineError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	g.writeJSON(w, status, result)
}

// handleSwitchModel handles POST /api/chat/switch-model.
func (g *Gateway) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var body SwitchModelRequest
	if err := decodeJSON(w, r, &body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := g.conversation.SwitchModel(r.Context(), &conversation.SwitchRequest{
		Owner:          g.owner(r, body.UserID),
		ConversationID: body.ConversationID,
		Model:          body.Model,
		SystemPrompt:   body.SystemPrompt,
	})
	if err != nil {
		g.sendPipelineError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

// handleListConversations handles GET /api/conversations?user_id=X&limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, err := g.conversation.ListConversations(r.Context(), g.owner(r, r.URL.Query().Get("user_id")), limit)
	if err != nil {
		g.sendPipelineError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationList(convs))
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	transcript, err := g.conversation.History(r.Context(), g.owner(r, r.URL.Query().Get("user_id")), r.PathValue("id"))
	if err != nil {
		g.sendPipelineError(w, err)
		return
	}

	resp := ConversationDetailResponse{
		Conversation: toConversationResponse(transcript.Conversation),
		Turns:        make([]TurnResponse, len(transcript.Turns)),
	}
	for i, t := range transcript.Turns {
		resp.Turns[i] = toTurnResponse(t)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleSetBookmark handles PUT /api/conversations/{id}/bookmark.
func (g *Gateway) handleSetBookmark(w http.ResponseWriter, r *http.Request) {
	var body BookmarkRequest
	if err := decodeJSON(w, r, &body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	state, err := g.conversation.SetBookmark(r.Context(), g.owner(r, body.UserID), id, body.Bookmarked)
	if err != nil {
		g.sendPipelineError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, BookmarkResponse{ConversationID: id, Bookmarked: state})
}

// handleListBookmarks handles GET /api/bookmarks?user_id=X.
func (g *Gateway) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	convs, err := g.conversation.Bookmarks(r.Context(), g.owner(r, r.URL.Query().Get("user_id")))
	if err != nil {
		g.sendPipelineError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationList(convs))
}

// handleListModels handles GET /api/models.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, ModelListResponse{Models: g.catalog.List()})
}

// parseLimit reads ?limit=N (default 50, max 1000).
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxListLimit), nil
}

// parseChatRequest decodes a chat request from JSON or multipart form data.
func (g *Gateway) parseChatRequest(w http.ResponseWriter, r *http.Request) (*conversation.SendRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return g.parseMultipartChat(w, r)
	}

	var body ChatRequest
	if err := decodeJSON(w, r, &body); err != nil {
		return nil, err
	}
	return g.toSendRequest(r, body, nil), nil
}

func (g *Gateway) toSendRequest(r *http.Request, body ChatRequest, files []conversation.File) *conversation.SendRequest {
	return &conversation.SendRequest{
		Owner:          g.owner(r, body.UserID),
		ConversationID: body.ConversationID,
		Prompt:         body.Prompt,
		Model:          body.Model,
		SystemPrompt:   body.SystemPrompt,
		WebSearch:      bool(body.WebSearch),
		Files:          files,
	}
}

// uploadLimits returns the configured file count and size caps.
func (g *Gateway) uploadLimits() (maxFiles int, maxBytes int64) {
	maxFiles, maxBytes = g.config.Extraction.MaxFiles, g.config.Extraction.MaxFileBytes
	if maxFiles <= 0 {
		maxFiles = config.DefaultMaxFiles
	}
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxFileBytes
	}
	return maxFiles, maxBytes
}

func (g *Gateway) parseMultipartChat(w http.ResponseWriter, r *http.Request) (*conversation.SendRequest, error) {
	maxFiles, maxBytes := g.uploadLimits()
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errors.New("invalid multipart body")
	}
	defer r.MultipartForm.RemoveAll()

	var webSearch FlexBool
	if v := r.FormValue("web_search"); v != "" {
		if err := webSearch.UnmarshalJSON([]byte(v)); err != nil {
			return nil, fmt.Errorf("web_search: %w", err)
		}
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) > maxFiles {
		return nil, fmt.Errorf("too many files: at most %d allowed", maxFiles)
	}

	files := make([]conversation.File, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxBytes {
			return nil, fmt.Errorf("file %q exceeds %d bytes", fh.Filename, maxBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("reading file %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading file %q: %w", fh.Filename, err)
		}
		files = append(files, conversation.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	body := ChatRequest{
		ConversationID: r.FormValue("conversation_id"),
		UserID:         r.FormValue("user_id"),
		Prompt:         r.FormValue("prompt"),
		Model:          r.FormValue("model"),
		SystemPrompt:   r.FormValue("system_prompt"),
		WebSearch:      webSearch,
	}
	return g.toSendRequest(r, body, files), nil
}

// claimIdempotencyKey rejects replays of a request carrying an
// Idempotency-Key header. The returned release func frees the key again if
// the request fails before doing any work.
func (g *Gateway) claimIdempotencyKey(w http.ResponseWriter, r *http.Request, owner string) (release func(error), ok bool) {
	header := r.Header.Get("Idempotency-Key")
	if header == "" {
		return func(error) {}, true
	}

	key := dedupe.Key(owner, header)
	if !g.dedupe.Claim(key) {
		g.sendJSONError(w, http.StatusConflict, "duplicate request: idempotency key already used")
		return nil, false
	}
	return func(err error) {
		if errors.Is(err, conversation.ErrValidation) || errors.Is(err, conversation.ErrNotFound) {
			g.dedupe.Release(key)
		}
	}, true
}

// decodeJSON decodes a size-limited JSON request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// statusForError maps pipeline errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, conversation.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrAlreadyRecorded):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrNaming), errors.Is(err, conversation.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sendPipelineError writes err as a JSON error with the mapped status.
func (g *Gateway) sendPipelineError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "stage", conversation.FailedStage(err), "error", err)
	}
	g.sendJSONError(w, status, conversation.UserMessage(err))
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
