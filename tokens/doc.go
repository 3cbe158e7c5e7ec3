// Package tokens estimates token usage for chat message lists and enforces
// context-window admission before any network call is made.
//
// The Accountant holds a per-provider-kind strategy registry with a
// conservative character-ratio fallback. Estimates round up and never
// decrease as a conversation grows; a request whose estimate plus reply
// budget exceeds the provider's context window is rejected locally.
//
// Usage:
//
//	acct := tokens.NewAccountant()
//	if err := acct.Validate(msgs, cfg, provider.Describe()); err != nil {
//		// llm.IsValidationRejected(err) == true
//	}
//
// The accountant never truncates: trimming a conversation to fit is the
// caller's responsibility, guided by Estimate.
package tokens
