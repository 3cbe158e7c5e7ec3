package tokens

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kbukum/llmgate/llm"
)

func TestHeuristicEstimate(t *testing.T) {
	tests := []struct {
		name string
		msgs []llm.Message
		want int
	}{
		{
			name: "empty list",
			msgs: nil,
			want: 0,
		},
		{
			name: "short message rounds up",
			msgs: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			want: 5, // ceil(2/4) + 4 overhead
		},
		{
			name: "empty content still pays framing",
			msgs: []llm.Message{{Role: llm.RoleUser, Content: ""}},
			want: 4,
		},
		{
			name: "two messages sum",
			msgs: []llm.Message{
				{Role: llm.RoleSystem, Content: "be brief"}, // ceil(8/4)+4 = 6
				{Role: llm.RoleUser, Content: "hi"},         // ceil(2/4)+4 = 5
			},
			want: 11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Default.Estimate(tt.msgs, llm.RequestConfig{}); got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHeuristicEstimate_Monotonic(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a helpful assistant."},
		{Role: llm.RoleUser, Content: "Hello, who are you?"},
		{Role: llm.RoleAssistant, Content: ""},
		{Role: llm.RoleUser, Content: strings.Repeat("long context ", 50)},
	}

	prev := 0
	for i := 1; i <= len(msgs); i++ {
		got := Default.Estimate(msgs[:i], llm.RequestConfig{})
		if got < prev {
			t.Fatalf("estimate decreased from %d to %d after appending message %d", prev, got, i)
		}
		prev = got
	}
}

func TestHeuristicEstimate_CountsToolCalls(t *testing.T) {
	plain := []llm.Message{{Role: llm.RoleUser, Content: "x"}}
	withTool := []llm.Message{{
		Role:    llm.RoleUser,
		Content: "x",
		ToolCall: &llm.ToolCall{
			Name:      "search",
			Arguments: json.RawMessage(`{"q":"go"}`),
		},
	}}

	base := Default.Estimate(plain, llm.RequestConfig{})
	tooled := Default.Estimate(withTool, llm.RequestConfig{})
	if tooled <= base {
		t.Errorf("tool call payload not counted: %d <= %d", tooled, base)
	}
}

func TestHeuristicEstimateText(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
	}

	for _, tt := range tests {
		if got := EstimateText(tt.input); got != tt.want {
			t.Errorf("EstimateText(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestHeuristicCustomRatio(t *testing.T) {
	h := Heuristic{CharsPerToken: 2, MessageOverhead: 1}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "abcd"}}
	if got := h.Estimate(msgs, llm.RequestConfig{}); got != 3 {
		t.Errorf("Estimate() = %d, want 3", got)
	}
}
