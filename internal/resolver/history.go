package resolver

import (
	"sync"
	"time"
)

// FallbackRecord 一次降级尝试的记录
type FallbackRecord struct {
	Primary  string    `json:"primary"`
	Fallback string    `json:"fallback"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// History 有界降级历史：满后淘汰最旧记录
type History struct {
	mu      sync.Mutex
	records []FallbackRecord
	cap     int
}

// NewHistory 创建容量为 capacity 的历史记录
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{cap: capacity}
}

// Add 追加记录，超容量时移除最旧
func (h *History) Add(rec FallbackRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if len(h.records) > h.cap {
		h.records = h.records[len(h.records)-h.cap:]
	}
}

// List 返回记录快照（旧→新）
func (h *History) List() []FallbackRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FallbackRecord, len(h.records))
	copy(out, h.records)
	return out
}
