package config

import (
	"context"
	"fmt"
	"os"

	"github.com/kbukum/llmgate/llm"
	"github.com/kbukum/llmgate/llm/cloud"
	"github.com/kbukum/llmgate/llm/local"
	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/observability"
	"github.com/kbukum/llmgate/resilience"
	"github.com/kbukum/llmgate/router"
	"github.com/kbukum/llmgate/tokens"
	"github.com/kbukum/llmgate/version"
)

// BuildOption adjusts how Build assembles the router.
type BuildOption func(*buildOptions)

type buildOptions struct {
	recorder   router.Recorder
	accountant *tokens.Accountant
	log        *logger.Logger
}

// WithRecorder supplies a telemetry recorder. Build skips its own telemetry
// initialization when one is given.
func WithRecorder(rec router.Recorder) BuildOption {
	return func(o *buildOptions) { o.recorder = rec }
}

// WithAccountant supplies a token accountant for admission checks.
func WithAccountant(acct *tokens.Accountant) BuildOption {
	return func(o *buildOptions) { o.accountant = acct }
}

// WithLogger supplies the router's logger. Build leaves the global logger
// untouched when one is given.
func WithLogger(log *logger.Logger) BuildOption {
	return func(o *buildOptions) { o.log = log }
}

// Build assembles a ready router from validated settings: adapters from
// provider entries, breakers and limiters where configured, telemetry when
// enabled. The returned cleanup flushes telemetry; call it on shutdown.
func Build(ctx context.Context, s *Settings, opts ...BuildOption) (*router.Router, func(context.Context) error, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		logger.Init(s.Logging)
		log = logger.New(&s.Logging, s.Name)
		names := []string{"router"}
		for _, p := range s.Providers {
			names = append(names, p.ID)
		}
		logger.RegisterDefaults(names...)
	}

	cleanup := func(context.Context) error { return nil }
	rec := o.recorder
	if rec == nil && s.Telemetry.Enabled {
		tel, err := observability.Init(ctx, s.Telemetry, s.Name, version.Short(), s.Environment)
		if err != nil {
			return nil, nil, fmt.Errorf("config: telemetry: %w", err)
		}
		rec = tel.Recorder()
		cleanup = tel.Shutdown
	}

	entries := make([]router.Entry, 0, len(s.Providers))
	for _, p := range s.Providers {
		entry, err := buildEntry(p, log)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}

	cfg := router.Config{
		Providers:   entries,
		Retry:       s.Router.Retry,
		Recorder:    rec,
		Logger:      log,
		HistorySize: s.Router.HistorySize,
	}
	if o.accountant != nil {
		cfg.Accountant = o.accountant
	}

	return router.New(cfg), cleanup, nil
}

func buildEntry(p ProviderSettings, log *logger.Logger) (router.Entry, error) {
	prov, err := buildProvider(p)
	if err != nil {
		return router.Entry{}, err
	}

	entry := router.Entry{
		Provider: prov,
		Retry:    p.Retry,
		Timeout:  p.Timeout,
	}
	if b := p.Breaker; b != nil {
		entry.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        p.ID,
			MaxFailures: b.MaxFailures,
			Timeout:     b.Cooldown,
			OnStateChange: func(name string, from, to resilience.State) {
				log.Warn("circuit state changed", logger.Fields(
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				))
			},
		})
	}
	if rl := p.RateLimit; rl != nil {
		entry.Limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Name:  p.ID,
			Rate:  rl.Rate,
			Burst: rl.Burst,
		})
	}
	return entry, nil
}

func buildProvider(p ProviderSettings) (llm.Provider, error) {
	switch p.Type {
	case "cloud":
		key := os.Getenv(p.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("config: provider %s: credential env %s is empty", p.ID, p.APIKeyEnv)
		}
		return cloud.New(cloud.Config{
			ID:            p.ID,
			BaseURL:       p.BaseURL,
			APIKey:        key,
			Timeout:       p.Timeout,
			ContextWindow: p.ContextWindow,
			Headers:       p.Headers,
		})
	case "local":
		return local.New(local.Config{
			ID:            p.ID,
			BaseURL:       p.BaseURL,
			Timeout:       p.Timeout,
			ContextWindow: p.ContextWindow,
		})
	default:
		return nil, fmt.Errorf("config: provider %s: unknown type %q", p.ID, p.Type)
	}
}
