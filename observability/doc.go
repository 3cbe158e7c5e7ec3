// Package observability provides OpenTelemetry tracing and metrics export
// for router calls.
//
// Initialization:
//
//	tel, err := observability.Init(ctx, cfg, "llmgate", "1.0.0", "production")
//	defer tel.Shutdown(ctx)
//
// The Recorder feeds per-attempt and per-completion instruments and plugs
// into the router:
//
//	r, err := router.New(router.Config{
//		Providers: entries,
//		Recorder:  tel.Recorder(),
//	})
//
// Tracing:
//
//	ctx, span := observability.StartSpan(ctx, "llm.complete")
//	defer span.End()
package observability
