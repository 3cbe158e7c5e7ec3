// Command mockllm runs a failure-injectable mock LLM backend speaking both
// wire protocols: the cloud chat-completions surface (JSON with SSE
// streaming) and the local chat surface (JSON with NDJSON streaming).
//
// Routes:
//
//	POST /v1/chat/completions   cloud completions (SSE when "stream": true)
//	GET  /v1/models             cloud availability probe
//	POST /api/chat              local chat (NDJSON when "stream": true)
//	GET  /api/tags              local availability probe
//	GET  /health                liveness of the mock itself
//
// The same routes exist under /down (always 503) and /flaky (first two
// requests 503, then healthy) so a failover demo can point providers at
// different prefixes of one process. Every route accepts fault-injection
// query parameters:
//
//	fail=<status>    respond with that HTTP status
//	retry_after=<s>  Retry-After seconds attached to 429 responses
//	delay=<dur>      sleep before answering (e.g. delay=300ms)
//	cut=<n>          streaming only: drop the connection after n chunks
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	chunkDelay := flag.Duration("chunk-delay", 25*time.Millisecond, "pause between stream chunks")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Init(logger.Config{Level: *level, Format: "console"})
	log := logger.WithComponent("mockllm")

	m := newMock(*chunkDelay, log)
	srv := &http.Server{
		Addr:        *addr,
		Handler:     m.engine(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("mock backend listening", logger.Fields(
			"addr", *addr,
			"version", version.Short(),
		))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Fields("error", err.Error()))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", logger.Fields("error", err.Error()))
	}
	log.Info("mock backend stopped")
}
