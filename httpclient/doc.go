// Package httpclient provides a configurable HTTP client with built-in
// authentication, resilience (retry, circuit breaker, rate limiting),
// and streaming support. It is the transport layer used by the LLM
// backend adapters.
//
// The base Client handles all HTTP protocol concerns. The sse subpackage
// provides a Server-Sent Events reader for streaming responses.
//
// # Basic Usage
//
//	client, err := httpclient.New(httpclient.Config{
//	    BaseURL: "https://api.example.com",
//	    Timeout: 30 * time.Second,
//	    Auth:    httpclient.BearerAuth("my-token"),
//	})
//
//	resp, err := client.Do(ctx, httpclient.Request{
//	    Method: http.MethodPost,
//	    Path:   "/v1/chat/completions",
//	    Body:   payload,
//	})
//
// # Streaming
//
//	stream, err := client.DoStream(ctx, httpclient.Request{
//	    Method: http.MethodPost,
//	    Path:   "/v1/chat/completions",
//	    Body:   payload,
//	})
//	defer stream.Close()
//	for {
//	    ev, err := stream.SSE.Next()
//	    ...
//	}
//
// Credentials are written to request headers and nowhere else. Use
// AuthConfig.Redacted when a credential must appear in diagnostics.
package httpclient
