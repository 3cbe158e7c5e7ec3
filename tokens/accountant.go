package tokens

import (
	"sync"

	"github.com/kbukum/llmgate/llm"
)

// Accountant estimates token usage and enforces context-window admission.
// Strategies are registered per provider kind; kinds without a registered
// strategy use the conservative default. Safe for concurrent use.
type Accountant struct {
	mu         sync.RWMutex
	strategies map[llm.Kind]Estimator
	fallback   Estimator
}

// NewAccountant creates an accountant with the default heuristic fallback.
func NewAccountant() *Accountant {
	return &Accountant{
		strategies: make(map[llm.Kind]Estimator),
		fallback:   Default,
	}
}

// RegisterStrategy installs a kind-specific estimator, replacing any
// previous one for that kind.
func (a *Accountant) RegisterStrategy(kind llm.Kind, e Estimator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategies[kind] = e
}

// Estimate returns the prompt-side token estimate using the fallback
// strategy.
func (a *Accountant) Estimate(msgs []llm.Message, cfg llm.RequestConfig) int {
	return a.fallback.Estimate(msgs, cfg)
}

// EstimateFor returns the prompt-side token estimate using the strategy
// registered for kind, or the fallback when none is registered.
func (a *Accountant) EstimateFor(kind llm.Kind, msgs []llm.Message, cfg llm.RequestConfig) int {
	return a.strategyFor(kind).Estimate(msgs, cfg)
}

// Validate checks that the estimated prompt plus the reply budget fits the
// provider's context window. On overflow it returns a ValidationRejected
// error carrying the combined demand and the window; no network call is
// involved. A descriptor without a declared window admits everything.
func (a *Accountant) Validate(msgs []llm.Message, cfg llm.RequestConfig, d llm.Descriptor) error {
	if d.ContextWindow <= 0 {
		return nil
	}
	demand := a.EstimateFor(d.Kind, msgs, cfg) + cfg.MaxTokens
	if demand > d.ContextWindow {
		return llm.NewValidationRejected(d.ID, demand, d.ContextWindow)
	}
	return nil
}

func (a *Accountant) strategyFor(kind llm.Kind) Estimator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if e, ok := a.strategies[kind]; ok {
		return e
	}
	return a.fallback
}
