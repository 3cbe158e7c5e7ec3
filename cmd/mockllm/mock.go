package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kbukum/llmgate/llm"
	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/tokens"
	"github.com/kbukum/llmgate/version"
)

const defaultModel = "mock-small"

// mock serves both wire protocols from a single process. Fault behavior
// is selected per request through query parameters and per backend
// through the route prefix.
type mock struct {
	chunkDelay time.Duration
	log        *logger.Logger
	flakyLeft  atomic.Int64
}

func newMock(chunkDelay time.Duration, log *logger.Logger) *mock {
	m := &mock{chunkDelay: chunkDelay, log: log}
	m.flakyLeft.Store(2)
	return m
}

// engine builds the route tree. The same four endpoints are mounted
// three times: at the root as a healthy backend, under /down as a dead
// one, and under /flaky as one that recovers after two failures.
func (m *mock) engine() *gin.Engine {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), m.requestLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Short()})
	})

	m.register(&r.RouterGroup)

	down := r.Group("/down")
	down.Use(func(c *gin.Context) {
		m.fail(c, http.StatusServiceUnavailable)
		c.Abort()
	})
	m.register(down)

	flaky := r.Group("/flaky")
	flaky.Use(func(c *gin.Context) {
		// Probes are spared so the backend looks healthy until driven.
		if c.Request.Method == http.MethodGet {
			return
		}
		if m.flakyLeft.Add(-1) >= 0 {
			m.fail(c, http.StatusServiceUnavailable)
			c.Abort()
		}
	})
	m.register(flaky)

	return r
}

func (m *mock) register(g *gin.RouterGroup) {
	g.POST("/v1/chat/completions", m.cloudChat)
	g.GET("/v1/models", m.cloudModels)
	g.POST("/api/chat", m.localChat)
	g.GET("/api/tags", m.localTags)
}

func (m *mock) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.log.Debug("request served", logger.Fields(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		))
	}
}

// fail writes an error response in the protocol of the requested path.
func (m *mock) fail(c *gin.Context, status int) {
	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", c.DefaultQuery("retry_after", "1"))
	}
	m.log.Info("injected failure", logger.Fields(
		"path", c.Request.URL.Path,
		"status", status,
	))
	if strings.Contains(c.Request.URL.Path, "/api/") {
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": gin.H{
		"message": http.StatusText(status),
		"type":    "server_error",
		"code":    strconv.Itoa(status),
	}})
}

// inject applies the delay and fail query parameters. It reports true
// when the request was answered with a failure.
func (m *mock) inject(c *gin.Context) bool {
	if raw := c.Query("delay"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			time.Sleep(d)
		}
	}
	if raw := c.Query("fail"); raw != "" {
		status, err := strconv.Atoi(raw)
		if err != nil || status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		m.fail(c, status)
		return true
	}
	return false
}

// cutAfter returns the number of stream chunks to send before dropping
// the connection, or zero when the stream should complete.
func cutAfter(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("cut", "0"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// --- cloud protocol ---

func (m *mock) cloudChat(c *gin.Context) {
	if m.inject(c) {
		return
	}

	var req wireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"message": "request body is not valid JSON",
			"type":    "invalid_request_error",
			"code":    "bad_request",
		}})
		return
	}
	model := req.model()
	answer := reply(req, model)
	prompt, completion := usageFor(req, answer)

	if !req.Stream {
		c.JSON(http.StatusOK, gin.H{
			"model":         model,
			"message":       wireMessage{Role: "assistant", Content: answer},
			"finish_reason": "stop",
			"usage": wireUsage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	cut := cutAfter(c)
	sent := 0
	for _, chunk := range chunks(answer) {
		if cut > 0 && sent >= cut {
			return
		}
		writeSSE(c.Writer, cloudFrame{Delta: cloudDelta{Content: chunk}})
		sent++
		time.Sleep(m.chunkDelay)
	}

	stop := "stop"
	writeSSE(c.Writer, cloudFrame{
		FinishReason: &stop,
		Usage: &wireUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	})
	_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func (m *mock) cloudModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   []gin.H{{"id": defaultModel, "object": "model"}},
	})
}

// --- local protocol ---

func (m *mock) localChat(c *gin.Context) {
	if m.inject(c) {
		return
	}

	var req wireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
		return
	}
	model := req.model()
	answer := reply(req, model)
	prompt, completion := usageFor(req, answer)
	started := time.Now()

	if !req.Stream {
		eval := generationTime(started)
		c.JSON(http.StatusOK, localLine{
			Model:           model,
			Message:         wireMessage{Role: "assistant", Content: answer},
			Done:            true,
			TotalDuration:   (eval + eval/8).Nanoseconds(),
			EvalDuration:    eval.Nanoseconds(),
			PromptEvalCount: prompt,
			EvalCount:       completion,
		})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")

	cut := cutAfter(c)
	sent := 0
	for _, chunk := range chunks(answer) {
		if cut > 0 && sent >= cut {
			return
		}
		writeLine(c.Writer, localLine{
			Model:   model,
			Message: wireMessage{Role: "assistant", Content: chunk},
		})
		sent++
		time.Sleep(m.chunkDelay)
	}

	eval := generationTime(started)
	writeLine(c.Writer, localLine{
		Model:           model,
		Done:            true,
		TotalDuration:   (eval + eval/8).Nanoseconds(),
		EvalDuration:    eval.Nanoseconds(),
		PromptEvalCount: prompt,
		EvalCount:       completion,
	})
}

// generationTime reports the wall time spent in a handler, floored at a
// millisecond so reported timings are never zero on coarse clocks.
func generationTime(started time.Time) time.Duration {
	if d := time.Since(started); d > time.Millisecond {
		return d
	}
	return time.Millisecond
}

func (m *mock) localTags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models": []gin.H{{"name": defaultModel, "model": defaultModel}},
	})
}

func writeSSE(w gin.ResponseWriter, v any) {
	data, _ := json.Marshal(v)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
}

func writeLine(w gin.ResponseWriter, v any) {
	data, _ := json.Marshal(v)
	_, _ = fmt.Fprintf(w, "%s\n", data)
	w.Flush()
}

// --- wire types ---

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireRequest covers the request body of both protocols. Sampling
// options are accepted and ignored.
type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

func (r wireRequest) model() string {
	if r.Model == "" {
		return defaultModel
	}
	return r.Model
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type cloudDelta struct {
	Content string `json:"content"`
}

type cloudFrame struct {
	Delta        cloudDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
	Usage        *wireUsage `json:"usage,omitempty"`
}

type localLine struct {
	Model           string      `json:"model"`
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	TotalDuration   int64       `json:"total_duration,omitempty"`
	EvalDuration    int64       `json:"eval_duration,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

// reply builds a deterministic answer from the last user message so
// clients can assert on content.
func reply(req wireRequest, model string) string {
	last := ""
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	if last == "" {
		return fmt.Sprintf("Hello from %s. Send a user message to get an echo.", model)
	}
	return fmt.Sprintf("You said %q and %s heard you loud and clear.", last, model)
}

// chunks splits an answer into word-sized stream deltas.
func chunks(s string) []string {
	words := strings.Fields(s)
	out := make([]string, 0, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		out = append(out, w)
	}
	return out
}

// usageFor counts tokens with the same heuristic clients use, so the
// reported counters line up with client-side estimates.
func usageFor(req wireRequest, answer string) (prompt, completion int) {
	msgs := make([]llm.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		msgs = append(msgs, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return tokens.Estimate(msgs, llm.RequestConfig{}), tokens.EstimateText(answer)
}
