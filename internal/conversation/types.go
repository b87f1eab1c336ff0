// ABOUTME: Pipeline types and the narrow collaborator interfaces the orchestrator depends on
// ABOUTME: Store, enrichment providers, model provider, naming and summarization are all injected

package conversation

import (
	"context"
	"time"

	"github.com/2389/querynox/internal/store"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered sequence handed to the model.
// It is derived from turns per request and never stored.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// File is an uploaded blob offered for extraction.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Enrichment sources.
const (
	SourceWebSearch = "web_search"
	SourceFiles     = "files"
)

// Warning reports an enrichment source that degraded to empty context.
type Warning struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// EnrichRequest selects which enrichment sources run for a prompt.
type EnrichRequest struct {
	Prompt    string
	WebSearch bool
	Files     []File
}

// Enrichment is the joined context blob plus any absorbed failures.
type Enrichment struct {
	Context  string
	Warnings []Warning
}

// GenerateRequest is what the model provider receives.
type GenerateRequest struct {
	Model    string
	System   string
	Messages []Message
}

// Store is what the pipeline needs from persistence.
type Store interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context, owner string, limit int) ([]*store.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	AppendTurn(ctx context.Context, turn *store.Turn) error
	ListTurns(ctx context.Context, conversationID string) ([]*store.Turn, error)
	SetBookmark(ctx context.Context, owner, conversationID string, bookmarked bool) (bool, error)
	ListBookmarkedConversations(ctx context.Context, owner string) ([]*store.Conversation, error)
}

// TurnLister loads a conversation's turns.
type TurnLister interface {
	ListTurns(ctx context.Context, conversationID string) ([]*store.Turn, error)
}

// TurnAppender persists turns and bumps conversation activity.
type TurnAppender interface {
	AppendTurn(ctx context.Context, turn *store.Turn) error
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// Searcher produces a web search context blob for a prompt.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Extractor produces a context blob from uploaded files.
type Extractor interface {
	Extract(ctx context.Context, prompt string, files []File) (string, error)
}

// ChunkStream yields generated text incrementally. Recv returns io.EOF
// after the last chunk.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// Model is a generation backend.
type Model interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	GenerateStream(ctx context.Context, req GenerateRequest) (ChunkStream, error)
}

// Namer derives a short display name from a first prompt.
type Namer interface {
	NameFromPrompt(ctx context.Context, prompt string) (string, error)
}

// Summarizer condenses prior turns for a model switch.
type Summarizer interface {
	Summarize(ctx context.Context, turns []*store.Turn) (string, error)
}

// ModelCatalog answers whether a model can serve chat requests.
type ModelCatalog interface {
	SupportsChat(name string) bool
}
