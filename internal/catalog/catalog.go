// ABOUTME: Static model catalog mapping public model names to provider backends
// ABOUTME: Answers lookup, listing, and chat-capability questions for request validation

package catalog

import (
	"errors"
	"fmt"

	"github.com/2389/querynox/internal/config"
)

// ErrDuplicateModel indicates two catalog entries share a name.
var ErrDuplicateModel = errors.New("duplicate model")

// Model categories.
const (
	CategoryText  = "Text Generation"
	CategoryImage = "Image Generation"
)

// Model is one catalog entry.
type Model struct {
	Name        string `json:"modelName"`
	Category    string `json:"modelCategory"`
	Description string `json:"description"`
	// Provider names the configured backend that serves this model.
	Provider string `json:"-"`
	// UpstreamModel is the identifier sent to the provider. Empty means Name.
	UpstreamModel string `json:"-"`
}

// Upstream returns the model identifier to send to the provider.
func (m Model) Upstream() string {
	if m.UpstreamModel != "" {
		return m.UpstreamModel
	}
	return m.Name
}

// Defaults returns the built-in catalog.
func Defaults() []Model {
	return []Model{
		{Name: "Claude 3.5 Sonnet", Category: CategoryText, Description: "Fast and efficient text generation", Provider: "anthropic", UpstreamModel: "claude-3-5-sonnet-20240620"},
		{Name: "llama3-70b-8192", Category: CategoryText, Description: "Powerful open-source model via Groq", Provider: "groq"},
		{Name: "gpt-3.5-turbo", Category: CategoryText, Description: "Reliable and versatile text generation", Provider: "openai"},
		{Name: "gemini-1.5-flash", Category: CategoryText, Description: "Google's advanced language model", Provider: "gemini"},
		{Name: "dall-e-3", Category: CategoryImage, Description: "High-quality image generation", Provider: "openai"},
	}
}

// Catalog is an immutable, ordered set of models keyed by name.
type Catalog struct {
	models map[string]Model
	order  []string
}

// New builds a catalog from the given entries, preserving their order.
// Returns ErrDuplicateModel if a name repeats.
func New(models []Model) (*Catalog, error) {
	c := &Catalog{
		models: make(map[string]Model, len(models)),
		order:  make([]string, 0, len(models)),
	}
	for _, m := range models {
		if m.Name == "" {
			return nil, errors.New("model name is required")
		}
		if _, exists := c.models[m.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateModel, m.Name)
		}
		if m.Category == "" {
			m.Category = CategoryText
		}
		c.models[m.Name] = m
		c.order = append(c.order, m.Name)
	}
	return c, nil
}

// FromConfig builds a catalog from configured entries, falling back to
// Defaults when none are configured.
func FromConfig(entries []config.ModelConfig) (*Catalog, error) {
	if len(entries) == 0 {
		return New(Defaults())
	}
	models := make([]Model, 0, len(entries))
	for _, e := range entries {
		models = append(models, Model{
			Name:          e.Name,
			Category:      e.Category,
			Description:   e.Description,
			Provider:      e.Provider,
			UpstreamModel: e.UpstreamModel,
		})
	}
	return New(models)
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Model, bool) {
	m, ok := c.models[name]
	return m, ok
}

// List returns all entries in catalog order.
func (c *Catalog) List() []Model {
	out := make([]Model, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.models[name])
	}
	return out
}

// SupportsChat reports whether name is a known text generation model.
func (c *Catalog) SupportsChat(name string) bool {
	m, ok := c.models[name]
	return ok && m.Category == CategoryText
}

// Providers returns the distinct provider names referenced by the catalog.
func (c *Catalog) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range c.order {
		p := c.models[name].Provider
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
