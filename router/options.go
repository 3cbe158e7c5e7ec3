package router

import (
	"fmt"

	"github.com/kbukum/llmgate/llm"
)

// CallOption adjusts a single routed call without touching the registry.
type CallOption func(*callOptions)

type callOptions struct {
	order []string
}

// WithProviderOrder overrides the fallback order for one call: only the
// named providers are tried, in the given order. Naming a provider that
// is not registered fails the call with a ValidationRejected error
// before anything is attempted. An empty list keeps the registry order.
func WithProviderOrder(ids ...string) CallOption {
	return func(o *callOptions) {
		o.order = append([]string(nil), ids...)
	}
}

// entriesFor resolves the candidate list for one call: the registry
// snapshot, reordered when the caller supplied an explicit order.
func (r *Router) entriesFor(opts []CallOption) ([]Entry, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	entries := r.snapshotEntries()
	if len(o.order) == 0 {
		return entries, nil
	}

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Provider.Name()] = e
	}

	picked := make([]Entry, 0, len(o.order))
	for _, id := range o.order {
		e, ok := byName[id]
		if !ok {
			return nil, &llm.Error{
				Kind:    llm.ValidationRejected,
				Message: fmt.Sprintf("provider order names unregistered provider %q", id),
			}
		}
		picked = append(picked, e)
	}
	return picked, nil
}
