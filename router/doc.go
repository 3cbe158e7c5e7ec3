// Package router drives completion and streaming calls through an ordered
// list of providers. Each provider gets a bounded number of attempts with
// exponential backoff before the router falls over to the next one; only
// an aggregate exhaustion error or a cancellation ever reaches the caller.
//
// Requests are admission-checked against each provider's context window
// before any network traffic, per-provider circuit breakers and rate
// limiters gate individual attempts, and every attempt is recorded in a
// bounded history for inspection.
//
//	r := router.New(router.Config{
//		Providers: []router.Entry{
//			{Provider: local},
//			{Provider: cloud},
//		},
//	})
//
//	result, err := r.Complete(ctx, msgs, cfg)
package router
