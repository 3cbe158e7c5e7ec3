package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Complete is a convenience helper: sends system + user prompts through a
// provider and returns the text response.
func Complete(ctx context.Context, p Provider, cfg RequestConfig, system, user string) (string, error) {
	msgs := []Message{}
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})

	result, err := p.Complete(ctx, msgs, cfg)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// CompleteStructured sends a prompt expecting JSON and unmarshals the
// response into result. It requests JSON output from the backend and
// appends formatting instructions to the system prompt.
func CompleteStructured(ctx context.Context, p Provider, cfg RequestConfig, system, user string, result any) error {
	system += "\n\nIMPORTANT: Respond with ONLY the JSON object. " +
		"No markdown, no code blocks, no explanations. " +
		"Start with { and end with }."

	jsonCfg := cfg.Clone()
	jsonCfg.Format = FormatJSON

	content, err := Complete(ctx, p, jsonCfg, system, user)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(ExtractJSON(content)), result); err != nil {
		return fmt.Errorf("llm: unmarshal structured response: %w", err)
	}
	return nil
}

// ExtractJSON pulls a JSON object from model output that may contain
// markdown fences or surrounding prose.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	// Strip markdown code fences
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s[3:], "\n"); idx >= 0 {
			s = s[3+idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Find first { and last }
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
