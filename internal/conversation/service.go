// ABOUTME: Orchestrator composing history, enrichment, composition, generation, and recording
// ABOUTME: Owns create-on-first-turn vs append-to-existing and the model switch turn

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/querynox/internal/metrics"
	"github.com/2389/querynox/internal/store"
)

const (
	// titleRunes is how much of the first prompt becomes the conversation title.
	titleRunes = 50

	// PlaceholderSummary is recorded when summarization fails during a model switch.
	PlaceholderSummary = "Previous conversation context preserved."

	noPreviousModel = "no previous model"
)

// Config wires the Service's collaborators. Store, Model and Namer are required.
type Config struct {
	Store      Store
	Model      Model
	Namer      Namer
	Summarizer Summarizer
	Searcher   Searcher
	Extractor  Extractor
	Catalog    ModelCatalog
	Feed       *TurnFeed
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// GenerationTimeout bounds each generation. Zero means no limit.
	GenerationTimeout time.Duration
	// SaveTimeout bounds each turn commit.
	SaveTimeout time.Duration
}

// Service runs the conversation pipeline for each request.
type Service struct {
	store      Store
	namer      Namer
	summarizer Summarizer
	catalog    ModelCatalog
	history    *History
	enricher   *Enricher
	relay      *Relay
	recorder   *Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation: store is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("conversation: model is required")
	}
	if cfg.Namer == nil {
		return nil, errors.New("conversation: namer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:      cfg.Store,
		namer:      cfg.Namer,
		summarizer: cfg.Summarizer,
		catalog:    cfg.Catalog,
		history:    NewHistory(cfg.Store),
		enricher:   NewEnricher(cfg.Searcher, cfg.Extractor, cfg.Metrics, logger),
		relay:      NewRelay(cfg.Model, cfg.GenerationTimeout, cfg.Metrics, logger),
		recorder:   NewRecorder(cfg.Store, cfg.SaveTimeout, cfg.Feed, cfg.Metrics, logger),
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "conversation"),
		now:        time.Now,
	}, nil
}

// SendRequest is one user prompt. An empty ConversationID starts a new conversation.
type SendRequest struct {
	Owner          string
	ConversationID string
	Prompt         string
	Model          string
	SystemPrompt   string
	WebSearch      bool
	Files          []File
}

// SendResult is the outcome of a blocking request.
type SendResult struct {
	ConversationID string    `json:"conversation_id"`
	ChatName       string    `json:"chat_name"`
	Response       string    `json:"response"`
	Warnings       []Warning `json:"warnings"`
	Created        bool      `json:"-"`
}

func (s *Service) validate(req *SendRequest) error {
	if strings.TrimSpace(req.Owner) == "" {
		return validationError("user_id is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return validationError("prompt is required")
	}
	if req.Model == "" {
		return validationError("model is required")
	}
	if s.catalog != nil && !s.catalog.SupportsChat(req.Model) {
		return validationError("model %q is not available for chat", req.Model)
	}
	return nil
}

// lookup resolves an existing conversation owned by owner. Conversations of
// other owners are reported as not found.
func (s *Service) lookup(ctx context.Context, owner, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.Owner != owner) {
		return nil, &StageError{Stage: StageInit, Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
	}
	if err != nil {
		return nil, &StageError{Stage: StageInit, Err: fmt.Errorf("%w: loading conversation: %w", ErrPersistence, err)}
	}
	return conv, nil
}

// prepare validates req and resolves its conversation. It has no side effects.
func (s *Service) prepare(ctx context.Context, req *SendRequest) (*store.Conversation, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, nil
	}
	return s.lookup(ctx, req.Owner, req.ConversationID)
}

// createConversation names and inserts a new conversation for req.
func (s *Service) createConversation(ctx context.Context, req *SendRequest) (*store.Conversation, error) {
	name, err := s.namer.NameFromPrompt(ctx, req.Prompt)
	if err == nil && strings.TrimSpace(name) == "" {
		err = errors.New("empty name")
	}
	if err != nil {
		s.logger.Error("naming failed", "error", err)
		return nil, &StageError{Stage: StageCreateConversation, Err: fmt.Errorf("%w: %w", ErrNaming, err)}
	}

	now := s.now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		Owner:     req.Owner,
		Title:     truncateRunes(req.Prompt, titleRunes),
		ChatName:  strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		return nil, &StageError{Stage: StageCreateConversation, Err: fmt.Errorf("%w: creating conversation: %w", ErrPersistence, err)}
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "owner", conv.Owner)
	return conv, nil
}

// compose reconstructs history and builds the generation request.
func (s *Service) compose(ctx context.Context, conv *store.Conversation, fresh bool, req *SendRequest, enrichment Enrichment) (GenerateRequest, error) {
	var prior []Message
	if !fresh {
		var err error
		prior, err = s.history.Reconstruct(ctx, conv.ID)
		if err != nil {
			return GenerateRequest{}, &StageError{Stage: StageCompose, Err: err}
		}
	}
	return GenerateRequest{
		Model:    req.Model,
		System:   req.SystemPrompt,
		Messages: Compose(prior, req.Prompt, enrichment.Context),
	}, nil
}

func (s *Service) turnFor(req *SendRequest, response string) *store.Turn {
	return &store.Turn{
		Prompt:       req.Prompt,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		WebSearch:    req.WebSearch,
		Response:     response,
	}
}

func (s *Service) finish(mode string, err error) {
	if err == nil {
		s.metrics.RecordRequest(mode, metrics.OutcomeOK)
		return
	}
	s.metrics.RecordRequest(mode, metrics.OutcomeError)
	s.metrics.RecordStageFailure(string(FailedStage(err)))
}

// Send runs the pipeline in blocking mode.
func (s *Service) Send(ctx context.Context, req *SendRequest) (result *SendResult, err error) {
	defer func() { s.finish(metrics.ModeBlocking, err) }()

	conv, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	fresh := conv == nil
	if fresh {
		if conv, err = s.createConversation(ctx, req); err != nil {
			return nil, err
		}
	}

	enrichment := s.enricher.Enrich(ctx, EnrichRequest{Prompt: req.Prompt, WebSearch: req.WebSearch, Files: req.Files})

	genReq, err := s.compose(ctx, conv, fresh, req, enrichment)
	if err != nil {
		return nil, err
	}

	response, err := s.relay.Collect(ctx, genReq)
	if err != nil {
		return nil, &StageError{Stage: StageGenerate, Err: err}
	}

	if err := s.recorder.Begin(conv.ID).Commit(ctx, s.turnFor(req, response)); err != nil {
		return nil, &StageError{Stage: StagePersist, Err: err}
	}

	warnings := enrichment.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	return &SendResult{
		ConversationID: conv.ID,
		ChatName:       conv.ChatName,
		Response:       response,
		Warnings:       warnings,
		Created:        fresh,
	}, nil
}

// Stream runs the pipeline in streaming mode, delivering events to sink.
//
// Validation and not-found failures are returned before any event is sent.
// Once the first event has been sent every failure is delivered as exactly
// one error event and also returned, so callers can tell the two apart with
// a check on whether anything was emitted.
func (s *Service) Stream(ctx context.Context, req *SendRequest, sink Sink) (err error) {
	defer func() { s.finish(metrics.ModeStreaming, err) }()

	conv, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}
	fresh := conv == nil

	e := &emitter{sink: sink, logger: s.logger}
	fail := func(err error, msg string) error {
		e.send(ctx, errorEvent(msg))
		return err
	}

	if fresh {
		e.send(ctx, statusEvent("Initializing chat..."))
		e.send(ctx, statusEvent("Generating chat name..."))
		if conv, err = s.createConversation(ctx, req); err != nil {
			return fail(err, UserMessage(err))
		}
	} else {
		e.send(ctx, statusEvent("Loading chat..."))
	}
	e.send(ctx, metadataEvent(conv.ID, conv.ChatName))

	if req.WebSearch {
		e.send(ctx, statusEvent("Searching the web..."))
	}
	if n := len(req.Files); n > 0 {
		e.send(ctx, statusEvent(fmt.Sprintf("Processing %d file(s)...", n)))
	}
	enrichment := s.enricher.Enrich(ctx, EnrichRequest{Prompt: req.Prompt, WebSearch: req.WebSearch, Files: req.Files})
	s.emitEnrichmentStatus(ctx, e, req, enrichment)

	if !fresh {
		e.send(ctx, statusEvent("Loading conversation history..."))
	}
	genReq, err := s.compose(ctx, conv, fresh, req, enrichment)
	if err != nil {
		return fail(err, UserMessage(err))
	}

	recording := s.recorder.Begin(conv.ID)
	finalize := func(ctx context.Context, text string) error {
		return recording.Commit(ctx, s.turnFor(req, text))
	}

	outcome := s.relay.Stream(ctx, genReq, e, finalize)
	if outcome.Disconnected {
		s.logger.Info("caller disconnected during stream",
			"conversation_id", conv.ID,
			"chunks", outcome.Chunks,
			"stage", outcome.Stage)
	}
	return outcome.Err
}

func (s *Service) emitEnrichmentStatus(ctx context.Context, e *emitter, req *SendRequest, enrichment Enrichment) {
	failed := make(map[string]bool, len(enrichment.Warnings))
	for _, w := range enrichment.Warnings {
		failed[w.Source] = true
	}

	if req.WebSearch {
		if failed[SourceWebSearch] {
			e.send(ctx, statusEvent(warningMessage(enrichment.Warnings, SourceWebSearch)))
		} else {
			e.send(ctx, statusEvent("Web search completed."))
		}
	}
	if len(req.Files) > 0 {
		if failed[SourceFiles] {
			e.send(ctx, statusEvent(warningMessage(enrichment.Warnings, SourceFiles)))
		} else {
			e.send(ctx, statusEvent("File processing completed."))
		}
	}
}

func warningMessage(warnings []Warning, source string) string {
	for _, w := range warnings {
		if w.Source == source {
			return w.Message
		}
	}
	return ""
}

// emitter forwards events until the sink first fails.
type emitter struct {
	sink         Sink
	logger       *slog.Logger
	disconnected bool
}

func (e *emitter) Send(ctx context.Context, ev Event) error {
	if e.disconnected {
		return errSinkClosed
	}
	if err := e.sink.Send(ctx, ev); err != nil {
		e.disconnected = true
		e.logger.Debug("sink closed", "event", ev.Type, "error", err)
		return err
	}
	return nil
}

func (e *emitter) send(ctx context.Context, ev Event) {
	_ = e.Send(ctx, ev)
}

var errSinkClosed = errors.New("sink closed")

// SwitchRequest asks to change the model used for a conversation.
type SwitchRequest struct {
	Owner          string
	ConversationID string
	Model          string
	SystemPrompt   string
}

// SwitchResult reports the outcome of a model switch.
type SwitchResult struct {
	ConversationID string `json:"conversation_id"`
	PreviousModel  string `json:"previous_model"`
	Model          string `json:"model"`
	Switched       bool   `json:"switched"`
	Message        string `json:"message"`
}

// SwitchModel records a model switch turn carrying a summary of all prior
// turns. Switching to the model used by the most recent turn writes nothing.
func (s *Service) SwitchModel(ctx context.Context, req *SwitchRequest) (result *SwitchResult, err error) {
	defer func() {
		if err == nil && result != nil && !result.Switched {
			s.metrics.RecordRequest(metrics.ModeSwitch, metrics.OutcomeNoop)
			return
		}
		s.finish(metrics.ModeSwitch, err)
	}()

	switch {
	case strings.TrimSpace(req.Owner) == "":
		return nil, validationError("user_id is required")
	case req.ConversationID == "":
		return nil, validationError("conversation_id is required")
	case req.Model == "":
		return nil, validationError("model is required")
	case s.catalog != nil && !s.catalog.SupportsChat(req.Model):
		return nil, validationError("model %q is not available for chat", req.Model)
	}

	conv, err := s.lookup(ctx, req.Owner, req.ConversationID)
	if err != nil {
		return nil, err
	}

	turns, err := s.store.ListTurns(ctx, conv.ID)
	if err != nil {
		return nil, &StageError{Stage: StageCompose, Err: fmt.Errorf("%w: listing turns: %w", ErrPersistence, err)}
	}

	current := ""
	if len(turns) > 0 {
		current = latestTurn(turns).Model
	}
	if current == req.Model {
		return &SwitchResult{
			ConversationID: conv.ID,
			PreviousModel:  current,
			Model:          current,
			Message:        fmt.Sprintf("Model is already set to %s", current),
		}, nil
	}

	previous := current
	if previous == "" {
		previous = noPreviousModel
	}

	summary := s.summarize(ctx, turns)
	turn := &store.Turn{
		Prompt:       fmt.Sprintf("(System: Model switched from %s to %s)", previous, req.Model),
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Response:     summary,
	}
	if err := s.recorder.beginSwitch(conv.ID).Commit(ctx, turn); err != nil {
		return nil, &StageError{Stage: StagePersist, Err: err}
	}

	s.logger.Info("model switched",
		"conversation_id", conv.ID,
		"from", previous,
		"to", req.Model)

	return &SwitchResult{
		ConversationID: conv.ID,
		PreviousModel:  current,
		Model:          req.Model,
		Switched:       true,
		Message:        fmt.Sprintf("Successfully switched from %s to %s", previous, req.Model),
	}, nil
}

func latestTurn(turns []*store.Turn) *store.Turn {
	latest := turns[0]
	for _, t := range turns[1:] {
		if t.CreatedAt.After(latest.CreatedAt) || (t.CreatedAt.Equal(latest.CreatedAt) && t.Seq > latest.Seq) {
			latest = t
		}
	}
	return latest
}

// summarize never fails; it falls back to PlaceholderSummary.
func (s *Service) summarize(ctx context.Context, turns []*store.Turn) string {
	if s.summarizer == nil {
		return PlaceholderSummary
	}
	summary, err := s.summarizer.Summarize(ctx, turns)
	if err != nil || strings.TrimSpace(summary) == "" {
		s.logger.Warn("summarization failed, using placeholder", "error", err)
		return PlaceholderSummary
	}
	return summary
}

// Transcript is a conversation with its ordered turns.
type Transcript struct {
	Conversation *store.Conversation
	Turns        []*store.Turn
}

// History returns the conversation and its turns in order.
func (s *Service) History(ctx context.Context, owner, conversationID string) (*Transcript, error) {
	conv, err := s.lookup(ctx, owner, conversationID)
	if err != nil {
		return nil, err
	}
	turns, err := s.store.ListTurns(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing turns: %w", ErrPersistence, err)
	}
	return &Transcript{Conversation: conv, Turns: turns}, nil
}

// ListConversations returns the owner's conversations, most recent activity first.
func (s *Service) ListConversations(ctx context.Context, owner string, limit int) ([]*store.Conversation, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, validationError("user_id is required")
	}
	convs, err := s.store.ListConversations(ctx, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", ErrPersistence, err)
	}
	return convs, nil
}

// SetBookmark adds or removes a conversation from the owner's bookmarks and
// returns the resulting membership.
func (s *Service) SetBookmark(ctx context.Context, owner, conversationID string, bookmarked bool) (bool, error) {
	if strings.TrimSpace(owner) == "" {
		return false, validationError("user_id is required")
	}
	if _, err := s.lookup(ctx, owner, conversationID); err != nil {
		return false, err
	}
	state, err := s.store.SetBookmark(ctx, owner, conversationID, bookmarked)
	if err != nil {
		return false, fmt.Errorf("%w: updating bookmark: %w", ErrPersistence, err)
	}
	return state, nil
}

// Bookmarks returns the owner's bookmarked conversations.
func (s *Service) Bookmarks(ctx context.Context, owner string) ([]*store.Conversation, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, validationError("user_id is required")
	}
	convs, err := s.store.ListBookmarkedConversations(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: listing bookmarks: %w", ErrPersistence, err)
	}
	return convs, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
