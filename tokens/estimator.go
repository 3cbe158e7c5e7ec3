package tokens

import (
	"github.com/kbukum/llmgate/llm"
)

// Estimator estimates the prompt-side token count of a message list.
type Estimator interface {
	Estimate(msgs []llm.Message, cfg llm.RequestConfig) int
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(msgs []llm.Message, cfg llm.RequestConfig) int

// Estimate implements Estimator.
func (f EstimatorFunc) Estimate(msgs []llm.Message, cfg llm.RequestConfig) int {
	return f(msgs, cfg)
}

const (
	defaultCharsPerToken   = 4
	defaultMessageOverhead = 4
)

// Heuristic is a character-ratio estimator. All divisions round up and
// every message pays a fixed framing overhead, so the count errs high
// rather than low; admission control must not undershoot real tokenizers.
type Heuristic struct {
	// CharsPerToken is the assumed characters-per-token ratio. Zero means
	// the default of 4, the common approximation for English text.
	CharsPerToken int
	// MessageOverhead is the per-message framing cost in tokens. Zero
	// means the default of 4.
	MessageOverhead int
}

// Default is the conservative fallback estimator.
var Default = Heuristic{}

// Estimate sums the per-message estimates. Appending a message never
// decreases the result.
func (h Heuristic) Estimate(msgs []llm.Message, _ llm.RequestConfig) int {
	total := 0
	for _, m := range msgs {
		total += h.message(m)
	}
	return total
}

// EstimateText estimates a bare text fragment without message framing.
func (h Heuristic) EstimateText(s string) int {
	return h.EstimateChars(len(s))
}

// EstimateChars estimates a token count from a raw character count, for
// callers that track length without retaining the text.
func (h Heuristic) EstimateChars(n int) int {
	return ceilDiv(n, h.ratio())
}

func (h Heuristic) message(m llm.Message) int {
	chars := len(m.Content)
	if m.ToolCall != nil {
		chars += len(m.ToolCall.Name) + len(m.ToolCall.Arguments)
	}
	return ceilDiv(chars, h.ratio()) + h.overhead()
}

func (h Heuristic) ratio() int {
	if h.CharsPerToken > 0 {
		return h.CharsPerToken
	}
	return defaultCharsPerToken
}

func (h Heuristic) overhead() int {
	if h.MessageOverhead > 0 {
		return h.MessageOverhead
	}
	return defaultMessageOverhead
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// Estimate applies the default heuristic to a message list.
func Estimate(msgs []llm.Message, cfg llm.RequestConfig) int {
	return Default.Estimate(msgs, cfg)
}

// EstimateText applies the default heuristic to a bare text fragment.
func EstimateText(s string) int {
	return Default.EstimateText(s)
}

// EstimateChars applies the default heuristic to a raw character count.
func EstimateChars(n int) int {
	return Default.EstimateChars(n)
}
