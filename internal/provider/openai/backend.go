// ABOUTME: OpenAI-compatible chat backend built on go-openai
// ABOUTME: Adapts blocking and streaming completions to the pipeline's Model contract

package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/2389/querynox/internal/config"
	"github.com/2389/querynox/internal/conversation"
)

// ErrEmptyResponse is returned when a completion carries no choices.
var ErrEmptyResponse = errors.New("empty completion response")

// Backend is one configured OpenAI-compatible endpoint (OpenAI, Groq,
// Gemini and Anthropic compatibility layers, local servers).
type Backend struct {
	name   string
	client *goopenai.Client
}

// NewBackend creates a Backend from provider configuration.
//
// cfg.Timeout bounds connecting and waiting for response headers. It does
// not limit how long a streamed body may run; the caller's context does.
func NewBackend(name string, cfg config.ProviderConfig) *Backend {
	c := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		c.HTTPClient = &http.Client{Transport: newTransport(cfg.Timeout)}
	}
	return &Backend{name: name, client: goopenai.NewClientWithConfig(c)}
}

func newTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = timeout
	t.ResponseHeaderTimeout = timeout
	return t
}

// Name returns the provider name this backend was configured under.
func (b *Backend) Name() string {
	return b.name
}

func toChatMessages(system string, msgs []conversation.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		role := goopenai.ChatMessageRoleUser
		if m.Role == conversation.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// Complete runs a blocking chat completion against model.
func (b *Backend) Complete(ctx context.Context, model, system string, msgs []conversation.Message) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toChatMessages(system, msgs),
	})
	if err != nil {
		return "", fmt.Errorf("%s: chat completion: %w", b.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", b.name, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streaming chat completion against model.
func (b *Backend) Stream(ctx context.Context, model, system string, msgs []conversation.Message) (conversation.ChunkStream, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toChatMessages(system, msgs),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: chat completion stream: %w", b.name, err)
	}
	return &chunkStream{stream: stream}, nil
}

// chunkStream adapts go-openai's stream to conversation.ChunkStream.
// Recv passes io.EOF through unchanged.
type chunkStream struct {
	stream *goopenai.ChatCompletionStream
}

func (s *chunkStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *chunkStream) Close() error {
	return s.stream.Close()
}
