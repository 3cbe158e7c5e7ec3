package llm

import (
	"testing"
)

func TestRequestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RequestConfig
		wantErr bool
	}{
		{
			name: "minimal valid",
			cfg:  RequestConfig{Model: "gpt-4o", MaxTokens: 256},
		},
		{
			name:    "missing model",
			cfg:     RequestConfig{MaxTokens: 256},
			wantErr: true,
		},
		{
			name: "temperature at upper bound",
			cfg:  RequestConfig{Model: "m", MaxTokens: 256, Temperature: 2.0},
		},
		{
			name:    "temperature above upper bound",
			cfg:     RequestConfig{Model: "m", MaxTokens: 256, Temperature: 2.01},
			wantErr: true,
		},
		{
			name:    "negative temperature",
			cfg:     RequestConfig{Model: "m", MaxTokens: 256, Temperature: -0.1},
			wantErr: true,
		},
		{
			name: "top_p zero means unset",
			cfg:  RequestConfig{Model: "m", MaxTokens: 256, TopP: 0},
		},
		{
			name: "top_p at upper bound",
			cfg:  RequestConfig{Model: "m", MaxTokens: 256, TopP: 1.0},
		},
		{
			name:    "top_p above upper bound",
			cfg:     RequestConfig{Model: "m", MaxTokens: 256, TopP: 1.5},
			wantErr: true,
		},
		{
			name:    "negative top_p",
			cfg:     RequestConfig{Model: "m", MaxTokens: 256, TopP: -0.2},
			wantErr: true,
		},
		{
			name:    "missing max tokens",
			cfg:     RequestConfig{Model: "m"},
			wantErr: true,
		},
		{
			name:    "negative max tokens",
			cfg:     RequestConfig{Model: "m", MaxTokens: -1},
			wantErr: true,
		},
		{
			name: "json format",
			cfg:  RequestConfig{Model: "m", MaxTokens: 256, Format: FormatJSON},
		},
		{
			name:    "unknown format",
			cfg:     RequestConfig{Model: "m", MaxTokens: 256, Format: "yaml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestConfigClone(t *testing.T) {
	original := RequestConfig{
		Model:       "gpt-4o",
		MaxTokens:   256,
		Temperature: 0.7,
		Stop:        []string{"END"},
		Overrides: map[string]map[string]any{
			"openai": {"seed": 42},
		},
	}

	clone := original.Clone()
	clone.Stop[0] = "HALT"
	clone.Stop = append(clone.Stop, "EXTRA")
	clone.Overrides["openai"]["seed"] = 99
	clone.Overrides["ollama"] = map[string]any{"mirostat": 1}

	if original.Stop[0] != "END" {
		t.Errorf("Clone shares Stop slice: original mutated to %q", original.Stop[0])
	}
	if len(original.Stop) != 1 {
		t.Errorf("Clone shares Stop backing array: len = %d", len(original.Stop))
	}
	if original.Overrides["openai"]["seed"] != 42 {
		t.Errorf("Clone shares Overrides map: seed mutated to %v", original.Overrides["openai"]["seed"])
	}
	if _, ok := original.Overrides["ollama"]; ok {
		t.Error("Clone shares outer Overrides map: new provider key visible in original")
	}
}

func TestRequestConfigProviderOptions(t *testing.T) {
	cfg := RequestConfig{
		Model:     "m",
		MaxTokens: 64,
		Overrides: map[string]map[string]any{
			"openai": {"seed": 42},
		},
	}

	if opts := cfg.ProviderOptions("openai"); opts["seed"] != 42 {
		t.Errorf("ProviderOptions(openai) = %v, want seed 42", opts)
	}
	if opts := cfg.ProviderOptions("ollama"); opts != nil {
		t.Errorf("ProviderOptions(ollama) = %v, want nil", opts)
	}

	var empty RequestConfig
	if opts := empty.ProviderOptions("openai"); opts != nil {
		t.Errorf("ProviderOptions on empty config = %v, want nil", opts)
	}
}

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []Message
		wantErr bool
	}{
		{
			name: "single user message",
			msgs: []Message{{Role: RoleUser, Content: "hi"}},
		},
		{
			name: "system then user",
			msgs: []Message{
				{Role: RoleSystem, Content: "be brief"},
				{Role: RoleUser, Content: "hi"},
			},
		},
		{
			name: "full conversation",
			msgs: []Message{
				{Role: RoleSystem, Content: "be brief"},
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, Content: "hello"},
				{Role: RoleUser, Content: "more"},
			},
		},
		{
			name:    "empty",
			msgs:    nil,
			wantErr: true,
		},
		{
			name:    "unknown role",
			msgs:    []Message{{Role: "tool", Content: "x"}},
			wantErr: true,
		},
		{
			name: "no user message",
			msgs: []Message{
				{Role: RoleSystem, Content: "be brief"},
				{Role: RoleAssistant, Content: "hello"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessages(tt.msgs)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessages() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
