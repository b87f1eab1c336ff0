// ABOUTME: Chat naming and conversation summarization using a small utility model
// ABOUTME: Implements conversation.Namer and conversation.Summarizer

package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/querynox/internal/conversation"
	"github.com/2389/querynox/internal/store"
)

const (
	maxNameWords = 6

	namingInstruction = "Generate a short title of at most 6 words for a conversation that begins " +
		"with the user's message. Reply with the title only, without quotes or punctuation at the end."

	summaryInstruction = "Summarize the following conversation so another assistant can continue it. " +
		"Keep the key facts, decisions, and open questions. Reply with the summary only."
)

// Generator runs a blocking completion. Router satisfies it.
type Generator interface {
	Generate(ctx context.Context, req conversation.GenerateRequest) (string, error)
}

// Utility names and summarizes conversations with a single catalog model.
type Utility struct {
	gen   Generator
	model string
}

// NewUtility creates a Utility that sends its requests to model through gen.
func NewUtility(gen Generator, model string) *Utility {
	return &Utility{gen: gen, model: model}
}

func (u *Utility) ask(ctx context.Context, instruction, content string) (string, error) {
	return u.gen.Generate(ctx, conversation.GenerateRequest{
		Model:    u.model,
		System:   instruction,
		Messages: []conversation.Message{{Role: conversation.RoleUser, Content: content}},
	})
}

// NameFromPrompt returns a short display title for prompt.
func (u *Utility) NameFromPrompt(ctx context.Context, prompt string) (string, error) {
	raw, err := u.ask(ctx, namingInstruction, prompt)
	if err != nil {
		return "", err
	}
	name := cleanName(raw)
	if name == "" {
		return "", errors.New("model returned an empty name")
	}
	return name, nil
}

// cleanName trims whitespace, wrapping quotes and trailing periods, and
// keeps at most maxNameWords words.
func cleanName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, "\"'`“”‘’")
	name = strings.TrimRight(strings.TrimSpace(name), ".")
	words := strings.Fields(name)
	if len(words) > maxNameWords {
		words = words[:maxNameWords]
	}
	return strings.Join(words, " ")
}

// Summarize condenses turns into a short summary.
func (u *Utility) Summarize(ctx context.Context, turns []*store.Turn) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("nothing to summarize")
	}

	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "User: %s\nAssistant: %s\n\n", t.Prompt, t.Response)
	}

	summary, err := u.ask(ctx, summaryInstruction, transcript.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

var (
	_ conversation.Namer      = (*Utility)(nil)
	_ conversation.Summarizer = (*Utility)(nil)
)
