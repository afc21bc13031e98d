package tracker

import (
	"sync"

	"optionledger/internal/model"
)

// History is a fixed-capacity ring of portfolio summaries, one per
// pricing pass. At the default one-minute interval the default
// capacity covers a full day.
type History struct {
	mu   sync.RWMutex
	buf  []model.PortfolioSummary
	head int // next write slot
	size int
}

func NewHistory(capacity int) *History {
	return &History{buf: make([]model.PortfolioSummary, capacity)}
}

func (h *History) Record(s model.PortfolioSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.head] = s
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// Recent returns up to limit summaries, oldest first. limit <= 0
// returns everything recorded.
func (h *History) Recent(limit int) []model.PortfolioSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.PortfolioSummary, n)
	for i := 0; i < n; i++ {
		// Walk backward from the newest entry.
		idx := (h.head - n + i + len(h.buf)) % len(h.buf)
		out[i] = h.buf[idx]
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}
