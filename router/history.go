package router

import (
	"sync"

	"github.com/kbukum/llmgate/llm"
)

// history is a bounded attempt log. Once full, appends overwrite the
// oldest record so memory stays flat for the life of the process.
type history struct {
	mu   sync.Mutex
	buf  []llm.AttemptRecord
	next int
	full bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{buf: make([]llm.AttemptRecord, size)}
}

func (h *history) append(rec llm.AttemptRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = rec
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// snapshot returns the retained records, oldest first.
func (h *history) snapshot() []llm.AttemptRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]llm.AttemptRecord, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]llm.AttemptRecord, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}
