package anyllm

import (
	"testing"

	"github.com/aldenvane/skein/pkg/provider/llm"
)

// ── New ───────────────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name is rejected.
func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty provider name, got nil")
	}
}

// TestNew_EmptyModel checks that an empty model name is rejected.
func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model, got nil")
	}
}

// TestNew_UnsupportedProvider checks that unknown provider names are rejected.
func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("carrier-pigeon", "gpt-4o-mini"); err == nil {
		t.Error("expected error for unsupported provider, got nil")
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_SystemPromptFirst checks that the system prompt becomes the
// leading system-role message.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You narrate a fantasy world.",
		Messages: []llm.Message{
			{Role: "user", Content: "Describe the room."},
		},
	})

	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Content != "You narrate a fantasy world." {
		t.Errorf("expected system prompt first, got %q", params.Messages[0].Content)
	}
	if params.Messages[1].Role != "user" {
		t.Errorf("expected user role second, got %q", params.Messages[1].Role)
	}
}

// TestBuildParams_OptionalFields checks that zero temperature and max tokens
// stay unset.
func TestBuildParams_OptionalFields(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if params.Temperature != nil {
		t.Error("expected nil Temperature for zero value")
	}
	if params.MaxTokens != nil {
		t.Error("expected nil MaxTokens for zero value")
	}

	params = p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   256,
	})
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("expected Temperature 0.7, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("expected MaxTokens 256, got %v", params.MaxTokens)
	}
}

// ── CountTokens ───────────────────────────────────────────────────────────────

// TestCountTokens_Approximation checks the ~4 chars/token estimate plus
// per-message overhead.
func TestCountTokens_Approximation(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}

	got, err := p.CountTokens([]llm.Message{
		{Role: "user", Content: "12345678"}, // 8 chars -> 2 tokens + 4 overhead
		{Role: "assistant", Content: "123"}, // 3 chars -> 1 token + 4 overhead
	})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if got != 11 {
		t.Errorf("expected 11 tokens, got %d", got)
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

// TestModelCapabilities checks known model families and the unknown fallback.
func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model      string
		ctxWindow  int
		maxOutputs int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"claude-3-5-haiku-latest", 200_000, 8_192},
		{"llama3.2", 32_768, 4_096},
		{"some-unknown-model", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.ctxWindow {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.ctxWindow)
			}
			if caps.MaxOutputTokens != tt.maxOutputs {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.maxOutputs)
			}
		})
	}
}
