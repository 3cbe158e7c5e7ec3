// Package resilience provides the fault-tolerance primitives used around
// provider attempts.
//
// This package includes:
//   - Retry: retries failed operations with exponential, jittered, bounded
//     backoff
//   - CircuitBreaker: fails fast on a provider that keeps failing across
//     calls
//   - RateLimiter: paces outbound requests with a token bucket
//
// The fallback router drives its own attempt loop and uses BackoffDelay and
// Wait directly; Retry wraps single-shot operations such as transport
// requests:
//
//	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("openai"))
//	err := cb.Execute(func() error {
//	    return client.Do(ctx, req, &out)
//	})
package resilience
