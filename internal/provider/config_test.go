package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Ollama, cfg.Provider)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Endpoint)
	assert.Equal(t, "llama3.1:8b", cfg.Model)
	assert.Equal(t, 0.1, cfg.Temperature)
	assert.Equal(t, 4000, cfg.MaxTokens)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		in    Config
		want  Config
		notes int
	}{
		{
			name:  "valid config untouched",
			in:    Config{Provider: OpenAI, Endpoint: "https://api.openai.com/v1", Model: "gpt-4", Temperature: 0.7, MaxTokens: 100},
			want:  Config{Provider: OpenAI, Endpoint: "https://api.openai.com/v1", Model: "gpt-4", Temperature: 0.7, MaxTokens: 100},
			notes: 0,
		},
		{
			name:  "unknown provider falls back to default",
			in:    Config{Provider: "mystery", Model: "x"},
			want:  DefaultConfig(),
			notes: 1,
		},
		{
			name:  "model outside catalog and missing endpoint",
			in:    Config{Provider: Anthropic, Model: "gpt-4", Temperature: 0.1, MaxTokens: 4000},
			want:  Config{Provider: Anthropic, Endpoint: "https://api.anthropic.com", Model: "claude-3-opus", Temperature: 0.1, MaxTokens: 4000},
			notes: 2,
		},
		{
			name:  "custom accepts any model and keeps empty endpoint",
			in:    Config{Provider: Custom, Model: "my-finetune", Temperature: 1, MaxTokens: 10},
			want:  Config{Provider: Custom, Model: "my-finetune", Temperature: 1, MaxTokens: 10},
			notes: 0,
		},
		{
			name:  "sampling settings out of range",
			in:    Config{Provider: Google, Endpoint: "https://g", Model: "gemini-pro", Temperature: 3.5, MaxTokens: -1},
			want:  Config{Provider: Google, Endpoint: "https://g", Model: "gemini-pro", Temperature: 0.1, MaxTokens: 4000},
			notes: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, notes := tt.in.Normalize()
			assert.Equal(t, tt.want, got)
			assert.Len(t, notes, tt.notes)
		})
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	d, ok := Lookup(OpenAI)
	assert.True(t, ok)
	d.Models[0] = "tampered"

	again, _ := Lookup(OpenAI)
	assert.Equal(t, "gpt-4", again.Models[0])
}

func TestHasModel(t *testing.T) {
	assert.True(t, HasModel(Google, "gemini-pro"))
	assert.False(t, HasModel(Google, "gpt-4"))
	assert.True(t, HasModel(Custom, "anything"))
	assert.False(t, HasModel(Custom, ""))
	assert.False(t, HasModel("nope", "gpt-4"))
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1", Config{Provider: OpenAI}.BaseURL())
	assert.Equal(t, "http://localhost:8080", Config{Provider: Custom, Endpoint: "http://localhost:8080/"}.BaseURL())
}
