// ABOUTME: Tests for the model catalog
// ABOUTME: Covers defaults, config overrides, duplicate detection, and chat capability checks

package catalog

import (
	"errors"
	"testing"

	"github.com/2389/querynox/internal/config"
)

func TestDefaults(t *testing.T) {
	c, err := New(Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list := c.List()
	if len(list) != 5 {
		t.Fatalf("expected 5 models, got %d", len(list))
	}
	if list[0].Name != "Claude 3.5 Sonnet" {
		t.Errorf("expected first model 'Claude 3.5 Sonnet', got '%s'", list[0].Name)
	}
	if list[4].Name != "dall-e-3" {
		t.Errorf("expected last model 'dall-e-3', got '%s'", list[4].Name)
	}
}

func TestSupportsChat(t *testing.T) {
	c, err := New(Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"gpt-3.5-turbo", true},
		{"llama3-70b-8192", true},
		{"Claude 3.5 Sonnet", true},
		{"dall-e-3", false},
		{"unknown-model", false},
	}
	for _, tt := range tests {
		if got := c.SupportsChat(tt.name); got != tt.want {
			t.Errorf("SupportsChat(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLookupUpstream(t *testing.T) {
	c, err := New(Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := c.Lookup("Claude 3.5 Sonnet")
	if !ok {
		t.Fatal("expected Claude 3.5 Sonnet to be found")
	}
	if m.Upstream() != "claude-3-5-sonnet-20240620" {
		t.Errorf("expected upstream override, got '%s'", m.Upstream())
	}

	m, ok = c.Lookup("gpt-3.5-turbo")
	if !ok {
		t.Fatal("expected gpt-3.5-turbo to be found")
	}
	if m.Upstream() != "gpt-3.5-turbo" {
		t.Errorf("expected upstream to default to name, got '%s'", m.Upstream())
	}

	if _, ok := c.Lookup("nope"); ok {
		t.Error("expected unknown model lookup to fail")
	}
}

func TestNewDuplicate(t *testing.T) {
	_, err := New([]Model{{Name: "a"}, {Name: "a"}})
	if !errors.Is(err, ErrDuplicateModel) {
		t.Errorf("expected ErrDuplicateModel, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	t.Run("empty falls back to defaults", func(t *testing.T) {
		c, err := FromConfig(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(c.List()) != len(Defaults()) {
			t.Errorf("expected %d models, got %d", len(Defaults()), len(c.List()))
		}
	})

	t.Run("configured entries replace defaults", func(t *testing.T) {
		c, err := FromConfig([]config.ModelConfig{
			{Name: "local-llama", Provider: "ollama", UpstreamModel: "llama3:8b"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(c.List()) != 1 {
			t.Fatalf("expected 1 model, got %d", len(c.List()))
		}
		if !c.SupportsChat("local-llama") {
			t.Error("expected missing category to default to text generation")
		}
		if got := c.Providers(); len(got) != 1 || got[0] != "ollama" {
			t.Errorf("expected providers [ollama], got %v", got)
		}
	})
}
