// Package version provides build version information embedding.
//
// Version, git commit, and build time are set at compile time via -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/llmgate/version.Version=1.0.0"
//
// Fields not set at build time are resolved from the binary's embedded
// build info where available.
package version
